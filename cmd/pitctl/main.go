package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/brensch/pit/logging"
	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "pitd websocket URL")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	log, err := logging.New(os.Stderr, *logLevel, logging.FormatConsole)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *addr, nil)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("dial")
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("read")
				}
				return
			}
			if kind == websocket.BinaryMessage {
				fmt.Printf("%s\n", data)
				continue
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, data, "", "  "); err != nil {
				fmt.Printf("%s\n", data)
				continue
			}
			fmt.Println(pretty.String())
		}
	}()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			msg, err := parseLine(line)
			if errors.Is(err, errEmpty) {
				continue
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Error().Err(err).Msg("write")
				return
			}
			if msg["command"] == "exit" {
				<-done
				return
			}
		}
	}
}
