package mcts

import (
	"github.com/brensch/pit/game"
)

// Node holds the edge statistics of one canonical board.
//
// Visits counts every pass through the node including the one that expanded
// it, so the sum of N over all actions is always Visits-1.
type Node struct {
	Key    string
	Valid  []bool
	Prior  []float32
	N      []int
	W      []float32
	Visits int
}

func newNode(key string, valid []bool, prior []float32) *Node {
	return &Node{
		Key:    key,
		Valid:  valid,
		Prior:  prior,
		N:      make([]int, len(valid)),
		W:      make([]float32, len(valid)),
		Visits: 1,
	}
}

// Q returns the mean value of action a, or 0 if it was never taken.
func (n *Node) Q(a int) float32 {
	if n.N[a] == 0 {
		return 0
	}
	return n.W[a] / float32(n.N[a])
}

// Tree is the search state of a single Search call. It is discarded
// afterwards; nothing is reused across calls.
type Tree struct {
	Root  *Node
	Nodes map[string]*Node
}

// Config holds MCTS configuration
type Config struct {
	Cpuct float32
}

// Evaluator maps a canonical board to action priors and a value in [-1, 1]
// for the player to move.
type Evaluator interface {
	Predict(b game.Board) ([]float32, float32, error)
}

// MCTS holds the search context
type MCTS struct {
	Config Config
	Game   game.Game
	Client Evaluator
}
