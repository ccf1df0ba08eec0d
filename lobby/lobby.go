// Package lobby binds groups of connections to seats and to one protocol
// machine per group.
package lobby

import (
	"sort"
	"sync"

	"github.com/brensch/pit/protocol"
)

type Seat string

const (
	P1        Seat = "p1"
	P2        Seat = "p2"
	Spectator Seat = "sp"
)

func ParseSeat(s string) (Seat, bool) {
	switch Seat(s) {
	case P1, P2, Spectator:
		return Seat(s), true
	}
	return "", false
}

// Conn is a lobby member. Send must not block.
type Conn interface {
	ID() string
	Send(r protocol.Response)
}

// Lobby is one group of connections sharing a protocol machine.
type Lobby struct {
	Key     string
	machine *protocol.Machine

	mu         sync.Mutex
	p1, p2     Conn
	spectators map[string]Conn
}

func newLobby(key string) *Lobby {
	return &Lobby{Key: key, spectators: make(map[string]Conn)}
}

func (l *Lobby) Machine() *protocol.Machine { return l.machine }

// Send routes r to its seat, or to every member when r.Pos is empty.
func (l *Lobby) Send(r protocol.Response) {
	for _, c := range l.targets(Seat(r.Pos)) {
		c.Send(r)
	}
}

func (l *Lobby) targets(seat Seat) []Conn {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Conn
	if (seat == "" || seat == P1) && l.p1 != nil {
		out = append(out, l.p1)
	}
	if (seat == "" || seat == P2) && l.p2 != nil {
		out = append(out, l.p2)
	}
	if seat == "" || seat == Spectator {
		ids := make([]string, 0, len(l.spectators))
		for id := range l.spectators {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			out = append(out, l.spectators[id])
		}
	}
	return out
}

// seatOf returns c's seat. Caller holds mu.
func (l *Lobby) seatOf(c Conn) (Seat, bool) {
	switch {
	case l.p1 != nil && l.p1.ID() == c.ID():
		return P1, true
	case l.p2 != nil && l.p2.ID() == c.ID():
		return P2, true
	}
	if _, ok := l.spectators[c.ID()]; ok {
		return Spectator, true
	}
	return "", false
}

// vacate removes c from its seat. Caller holds mu.
func (l *Lobby) vacate(c Conn) {
	switch s, _ := l.seatOf(c); s {
	case P1:
		l.p1 = nil
	case P2:
		l.p2 = nil
	case Spectator:
		delete(l.spectators, c.ID())
	}
}

// seat puts c into s if it is free. Caller holds mu.
func (l *Lobby) seat(c Conn, s Seat, capacity int) error {
	switch s {
	case P1:
		if l.p1 != nil {
			return ErrSeatTaken
		}
		l.p1 = c
	case P2:
		if l.p2 != nil {
			return ErrSeatTaken
		}
		l.p2 = c
	case Spectator:
		if capacity > 0 && len(l.spectators) >= capacity {
			return ErrFull
		}
		l.spectators[c.ID()] = c
	default:
		return ErrBadSeat
	}
	return nil
}

// empty reports whether no seat is occupied. Caller holds mu.
func (l *Lobby) empty() bool {
	return l.p1 == nil && l.p2 == nil && len(l.spectators) == 0
}

// Status is the public view of a lobby.
type Status struct {
	Key        string          `json:"key"`
	P1         bool            `json:"p1"`
	P2         bool            `json:"p2"`
	Spectators int             `json:"sp"`
	Session    protocol.Status `json:"session"`
}

func (l *Lobby) Status() Status {
	l.mu.Lock()
	st := Status{Key: l.Key, P1: l.p1 != nil, P2: l.p2 != nil, Spectators: len(l.spectators)}
	l.mu.Unlock()
	st.Session = l.machine.Status()
	return st
}
