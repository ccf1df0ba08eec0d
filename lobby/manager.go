package lobby

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/brensch/pit/catalog"
	"github.com/brensch/pit/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound      = errors.New("lobby not found")
	ErrFull          = errors.New("lobby is full")
	ErrSeatTaken     = errors.New("seat is taken")
	ErrAlreadySeated = errors.New("connection is already in a lobby")
	ErrNotSeated     = errors.New("connection is not in a lobby")
	ErrNotEmpty      = errors.New("lobby is not empty")
	ErrBadSeat       = errors.New("unknown seat")
)

type Config struct {
	// Spectators caps the spectator seats per lobby; 0 means no limit.
	Spectators int
	Machine    protocol.Config
	Logger     zerolog.Logger
}

// Manager owns every lobby. All seat changes are serialised by mu; locks
// are taken manager first, then lobby.
type Manager struct {
	ctx     context.Context
	catalog *catalog.Catalog
	cfg     Config
	log     zerolog.Logger

	mu      sync.Mutex
	lobbies map[string]*Lobby
	members map[string]*Lobby
}

func NewManager(ctx context.Context, cat *catalog.Catalog, cfg Config) *Manager {
	return &Manager{
		ctx:     ctx,
		catalog: cat,
		cfg:     cfg,
		log:     cfg.Logger,
		lobbies: make(map[string]*Lobby),
		members: make(map[string]*Lobby),
	}
}

// Create opens an empty lobby and returns its key.
func (m *Manager) Create() string {
	key := uuid.NewString()
	l := newLobby(key)
	mc := m.cfg.Machine
	mc.Logger = m.log.With().Str("lobby", key).Logger()
	l.machine = protocol.NewMachine(m.ctx, m.catalog, l, mc)

	m.mu.Lock()
	m.lobbies[key] = l
	m.mu.Unlock()

	m.log.Info().Str("lobby", key).Msg("lobby created")
	return key
}

// Join seats c in the first free seat of lobby key: p1, p2, then spectator.
func (m *Manager) Join(key string, c Conn) (Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if _, seated := m.members[c.ID()]; seated {
		return "", ErrAlreadySeated
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range []Seat{P1, P2, Spectator} {
		if err := l.seat(c, s, m.cfg.Spectators); err == nil {
			m.members[c.ID()] = l
			m.log.Debug().Str("lobby", key).Str("conn", c.ID()).Str("seat", string(s)).Msg("joined")
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrFull, key)
}

// Leave removes c from its lobby. An emptied lobby is closed and removed.
func (m *Manager) Leave(c Conn) error {
	m.mu.Lock()
	l, ok := m.members[c.ID()]
	if !ok {
		m.mu.Unlock()
		return ErrNotSeated
	}
	delete(m.members, c.ID())

	l.mu.Lock()
	l.vacate(c)
	empty := l.empty()
	l.mu.Unlock()

	if empty {
		delete(m.lobbies, l.Key)
	}
	m.mu.Unlock()

	if empty {
		l.machine.Close()
		m.log.Info().Str("lobby", l.Key).Msg("lobby closed")
	}
	return nil
}

// Swap moves c to seat s within its lobby.
func (m *Manager) Swap(c Conn, s Seat) error {
	if _, ok := ParseSeat(string(s)); !ok {
		return fmt.Errorf("%w: %q", ErrBadSeat, s)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.members[c.ID()]
	if !ok {
		return ErrNotSeated
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, _ := l.seatOf(c)
	if cur == s {
		return nil
	}
	l.vacate(c)
	if err := l.seat(c, s, m.cfg.Spectators); err != nil {
		_ = l.seat(c, cur, 0)
		return err
	}
	return nil
}

// Seat returns the lobby key and seat of c.
func (m *Manager) Seat(c Conn) (string, Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.members[c.ID()]
	if !ok {
		return "", "", ErrNotSeated
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, _ := l.seatOf(c)
	return l.Key, s, nil
}

func (m *Manager) lobby(key string) (*Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return l, nil
}

func (m *Manager) Status(key string) (Status, error) {
	l, err := m.lobby(key)
	if err != nil {
		return Status{}, err
	}
	return l.Status(), nil
}

// List returns the status of every lobby ordered by key.
func (m *Manager) List() []Status {
	m.mu.Lock()
	ls := make([]*Lobby, 0, len(m.lobbies))
	for _, l := range m.lobbies {
		ls = append(ls, l)
	}
	m.mu.Unlock()

	sort.Slice(ls, func(i, j int) bool { return ls[i].Key < ls[j].Key })
	out := make([]Status, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Status())
	}
	return out
}

// Remove deletes an unoccupied lobby.
func (m *Manager) Remove(key string) error {
	m.mu.Lock()
	l, ok := m.lobbies[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	l.mu.Lock()
	empty := l.empty()
	l.mu.Unlock()
	if !empty {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotEmpty, key)
	}
	delete(m.lobbies, key)
	m.mu.Unlock()

	l.machine.Close()
	return nil
}

// Dispatch hands a game command from c to its lobby's machine, tagged with
// c's seat. No manager or lobby lock is held while the command runs.
func (m *Manager) Dispatch(c Conn, msg protocol.Message) error {
	m.mu.Lock()
	l, ok := m.members[c.ID()]
	var seat Seat
	if ok {
		l.mu.Lock()
		seat, _ = l.seatOf(c)
		l.mu.Unlock()
	}
	m.mu.Unlock()

	if !ok {
		return ErrNotSeated
	}
	l.machine.Handle(string(seat), msg)
	return nil
}

// Close shuts down every lobby.
func (m *Manager) Close() {
	m.mu.Lock()
	ls := make([]*Lobby, 0, len(m.lobbies))
	for key, l := range m.lobbies {
		ls = append(ls, l)
		delete(m.lobbies, key)
	}
	m.members = make(map[string]*Lobby)
	m.mu.Unlock()

	for _, l := range ls {
		l.machine.Close()
	}
}
