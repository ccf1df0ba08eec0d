package protocol

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/pit/executor/arena"
)

const recentResults = 10

// RecentResult is a finished session as shown on the dashboard.
type RecentResult struct {
	At      time.Time
	Session string
	Game    string
	Mode    Mode
	Winner  int
	Plies   int
}

// Metrics counts activity across every machine that shares it.
type Metrics struct {
	Moves    atomic.Int64
	Finished atomic.Int64

	mu     sync.Mutex
	recent []RecentResult
}

func (m *Metrics) record(s *Session, r arena.Result) {
	m.Finished.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = append(m.recent, RecentResult{
		At:      time.Now(),
		Session: s.ID,
		Game:    s.Setup.Game,
		Mode:    s.Setup.Mode,
		Winner:  int(r.Winner),
		Plies:   r.Plies,
	})
	if len(m.recent) > recentResults {
		m.recent = m.recent[len(m.recent)-recentResults:]
	}
}

// Recent returns the latest results, newest last.
func (m *Metrics) Recent() []RecentResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecentResult(nil), m.recent...)
}
