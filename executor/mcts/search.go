package mcts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/brensch/pit/game"
)

var (
	ErrBudget   = errors.New("simulation budget must be positive")
	ErrTerminal = errors.New("cannot search a terminal position")
)

type step struct {
	node   *Node
	action int
}

// Search runs simulations from b with p to move and returns the tree. The
// root is expanded before the budget is spent, so after Search the root's
// child visits sum to exactly simulations.
//
// The result depends only on the inputs and the evaluator's outputs.
func (m *MCTS) Search(ctx context.Context, b game.Board, p game.Player, simulations int) (*Tree, error) {
	if simulations < 1 {
		return nil, ErrBudget
	}
	canonical := m.Game.Canonical(b, p)
	if m.Game.Ended(canonical, game.One) != 0 {
		return nil, ErrTerminal
	}

	t := &Tree{Nodes: make(map[string]*Node)}
	root, _, err := m.expand(t, canonical, m.Game.Key(canonical))
	if err != nil {
		return nil, err
	}
	t.Root = root

	for i := 0; i < simulations; i++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return t, ctx.Err()
			default:
			}
		}
		if err := m.simulate(t, canonical); err != nil {
			return t, err
		}
	}
	return t, nil
}

func (m *MCTS) simulate(t *Tree, board game.Board) error {
	node := t.Root
	path := make([]step, 0, 16)
	var value float32

	// Selection
	for {
		a := m.selectAction(node)
		path = append(path, step{node: node, action: a})

		next, _, err := m.Game.NextState(board, game.One, a)
		if err != nil {
			return fmt.Errorf("apply selected action %d: %w", a, err)
		}
		board = m.Game.Canonical(next, game.Two)

		if ended := m.Game.Ended(board, game.One); ended != 0 {
			value = float32(ended)
			break
		}

		key := m.Game.Key(board)
		child, ok := t.Nodes[key]
		if !ok {
			// Expansion & Evaluation
			_, value, err = m.expand(t, board, key)
			if err != nil {
				return err
			}
			break
		}
		node = child
	}

	// Backpropagation. value is from the point of view of the player to move
	// at the leaf, so it flips sign at every edge on the way up.
	for i := len(path) - 1; i >= 0; i-- {
		value = -value
		s := path[i]
		s.node.N[s.action]++
		s.node.W[s.action] += value
		s.node.Visits++
	}
	return nil
}

// selectAction picks the valid action maximising the PUCT score. Ties go to
// the lowest index.
func (m *MCTS) selectAction(n *Node) int {
	best := -1
	bestScore := float32(math.Inf(-1))
	sqrtN := float32(math.Sqrt(float64(n.Visits)))

	for a, ok := range n.Valid {
		if !ok {
			continue
		}
		// U(s,a) = Q(s,a) + C_puct * P(s,a) * sqrt(N(s)) / (1 + N(s,a))
		u := n.Q(a) + m.Config.Cpuct*n.Prior[a]*sqrtN/(1+float32(n.N[a]))
		if u > bestScore {
			bestScore = u
			best = a
		}
	}
	return best
}

func (m *MCTS) expand(t *Tree, board game.Board, key string) (*Node, float32, error) {
	policy, value, err := m.Client.Predict(board)
	if err != nil {
		return nil, 0, fmt.Errorf("evaluate: %w", err)
	}
	size := m.Game.ActionSize()
	if len(policy) != size {
		return nil, 0, fmt.Errorf("evaluate: policy has %d entries, want %d", len(policy), size)
	}

	valid := m.Game.ValidMoves(board, game.One)
	count := 0
	for _, ok := range valid {
		if ok {
			count++
		}
	}
	if count == 0 {
		valid[game.PassAction(m.Game)] = true
		count = 1
	}

	prior := make([]float32, size)
	sum := float32(0)
	for a, ok := range valid {
		if ok && policy[a] > 0 {
			prior[a] = policy[a]
			sum += policy[a]
		}
	}
	if sum > 0 {
		for a := range prior {
			prior[a] /= sum
		}
	} else {
		// The evaluator put no mass on any legal action; fall back to uniform.
		for a, ok := range valid {
			if ok {
				prior[a] = 1 / float32(count)
			}
		}
	}

	n := newNode(key, valid, prior)
	t.Nodes[key] = n
	return n, value, nil
}

// Policy returns the root visit distribution sharpened by temperature.
// Temperature 0 puts all mass on the most visited action, lowest index first.
func (t *Tree) Policy(temperature float32) []float32 {
	counts := t.Root.N
	probs := make([]float32, len(counts))

	if temperature <= 0 {
		best := 0
		for a, n := range counts {
			if n > counts[best] {
				best = a
			}
		}
		if counts[best] == 0 {
			best = firstValid(t.Root.Valid)
		}
		probs[best] = 1
		return probs
	}

	weights := make([]float64, len(counts))
	total := 0.0
	for a, n := range counts {
		if n == 0 {
			continue
		}
		weights[a] = math.Pow(float64(n), 1/float64(temperature))
		total += weights[a]
	}
	if total == 0 || math.IsInf(total, 0) {
		probs[firstValid(t.Root.Valid)] = 1
		return probs
	}
	for a, w := range weights {
		probs[a] = float32(w / total)
	}
	return probs
}

func firstValid(valid []bool) int {
	for a, ok := range valid {
		if ok {
			return a
		}
	}
	return len(valid) - 1
}

// ActionProb searches b and returns the root distribution.
func (m *MCTS) ActionProb(ctx context.Context, b game.Board, p game.Player, simulations int, temperature float32) ([]float32, error) {
	t, err := m.Search(ctx, b, p, simulations)
	if err != nil {
		return nil, err
	}
	return t.Policy(temperature), nil
}

// BestAction returns the index with the highest probability, lowest first.
func BestAction(probs []float32) int {
	best := 0
	for a, v := range probs {
		if v > probs[best] {
			best = a
		}
	}
	return best
}

// SampleAction samples an index from a probability distribution
func SampleAction(rng *rand.Rand, probs []float32) int {
	r := rng.Float32()
	cumulative := float32(0)
	last := 0
	for a, v := range probs {
		if v <= 0 {
			continue
		}
		last = a
		cumulative += v
		if r < cumulative {
			return a
		}
	}
	return last
}
