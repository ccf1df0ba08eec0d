package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errEmpty = errors.New("empty line")

// parseLine turns a REPL line into an outbound message.
//
//	lobby create | join <key> | leave | swap <p1|p2|sp> | pos | list [key]
//	game <command> [field=value ...]
//	exit
//
// Field values that parse as JSON (numbers, true, null) are sent as such;
// anything else is sent as a string.
func parseLine(line string) (map[string]any, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errEmpty
	}

	switch cmd := strings.ToLower(fields[0]); cmd {
	case "exit", "quit":
		return map[string]any{"command": "exit"}, nil

	case "lobby":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: lobby <create|join|leave|swap|pos|list> [arg]")
		}
		msg := map[string]any{"command": "lobby", "command_key": strings.ToLower(fields[1])}
		switch msg["command_key"] {
		case "join", "list":
			if len(fields) > 2 {
				msg["key"] = fields[2]
			}
		case "swap":
			if len(fields) < 3 {
				return nil, fmt.Errorf("usage: lobby swap <p1|p2|sp>")
			}
			msg["pos"] = strings.ToLower(fields[2])
		}
		return msg, nil

	case "game":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: game <command> [field=value ...]")
		}
		msg := map[string]any{"command": "game", "command_key": strings.ToLower(fields[1])}
		for _, kv := range fields[2:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return nil, fmt.Errorf("expected field=value, got %q", kv)
			}
			msg[k] = value(v)
		}
		return msg, nil

	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

func value(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
