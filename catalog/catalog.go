// Package catalog is the registration table of playable games. Each entry
// pairs a rule engine with the factory that loads its evaluator from the
// conventional checkpoint path <models-root>/<game>/best-checkpoint.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brensch/pit/executor/inference"
	"github.com/brensch/pit/executor/mcts"
	"github.com/brensch/pit/game"
)

const CheckpointName = "best-checkpoint"

var (
	ErrUnknownGame       = errors.New("unknown game")
	ErrCheckpointMissing = errors.New("evaluator checkpoint missing")
)

// EvaluatorFactory loads an evaluator for g from checkpoint.
type EvaluatorFactory func(g game.Game, checkpoint string) (mcts.Evaluator, error)

type Entry struct {
	Name         string
	New          func() game.Game
	NewEvaluator EvaluatorFactory
}

// GameStatus is the public view of one catalog entry.
type GameStatus struct {
	Name       string `json:"name"`
	Checkpoint string `json:"checkpoint"`
	Available  bool   `json:"available"`
}

type Catalog struct {
	root    string
	entries map[string]Entry
	names   []string

	mu    sync.Mutex
	cache map[string]mcts.Evaluator
}

// New validates entries and builds the catalog. Names are matched
// case-insensitively.
func New(modelsRoot string, entries ...Entry) (*Catalog, error) {
	c := &Catalog{
		root:    modelsRoot,
		entries: make(map[string]Entry, len(entries)),
		cache:   make(map[string]mcts.Evaluator),
	}
	for _, e := range entries {
		key := strings.ToLower(e.Name)
		if key == "" {
			return nil, errors.New("catalog: entry without a name")
		}
		if e.New == nil || e.NewEvaluator == nil {
			return nil, fmt.Errorf("catalog: entry %q is incomplete", e.Name)
		}
		if _, dup := c.entries[key]; dup {
			return nil, fmt.Errorf("catalog: duplicate entry %q", e.Name)
		}
		if got := e.New().Name(); !strings.EqualFold(got, e.Name) {
			return nil, fmt.Errorf("catalog: entry %q builds game %q", e.Name, got)
		}
		c.entries[key] = e
		c.names = append(c.names, key)
	}
	sort.Strings(c.names)
	return c, nil
}

// Names lists the registered games in sorted order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

func (c *Catalog) lookup(name string) (Entry, error) {
	e, ok := c.entries[strings.ToLower(name)]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownGame, name)
	}
	return e, nil
}

// Game returns a fresh rule engine for name.
func (c *Catalog) Game(name string) (game.Game, error) {
	e, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.New(), nil
}

func (c *Catalog) CheckpointPath(name string) string {
	return filepath.Join(c.root, strings.ToLower(name), CheckpointName)
}

// Evaluator returns the evaluator for name, loading it on first use.
// Loaded evaluators are shared by every session of that game.
func (c *Catalog) Evaluator(name string) (mcts.Evaluator, error) {
	e, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	path := c.CheckpointPath(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if ev, ok := c.cache[path]; ok {
		return ev, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointMissing, path)
	}
	ev, err := e.NewEvaluator(e.New(), path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	c.cache[path] = ev
	return ev, nil
}

func (c *Catalog) Status() []GameStatus {
	out := make([]GameStatus, 0, len(c.names))
	for _, name := range c.names {
		path := c.CheckpointPath(name)
		_, err := os.Stat(path)
		out = append(out, GameStatus{Name: name, Checkpoint: path, Available: err == nil})
	}
	return out
}

// Close releases every loaded evaluator that holds resources.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for path, ev := range c.cache {
		if cl, ok := ev.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", path, err))
			}
		}
		delete(c.cache, path)
	}
	return errors.Join(errs...)
}

// Onnx returns a factory that loads checkpoints as ONNX models served by a
// pool of batching sessions.
func Onnx(sessions, batchSize int, batchTimeout time.Duration) EvaluatorFactory {
	return func(g game.Game, checkpoint string) (mcts.Evaluator, error) {
		cfg := inference.ConfigFor(g)
		if batchSize > 0 {
			cfg.BatchSize = batchSize
		}
		if batchTimeout > 0 {
			cfg.BatchTimeout = batchTimeout
		}
		return inference.NewOnnxClientPool(checkpoint, sessions, cfg)
	}
}
