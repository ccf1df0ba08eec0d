package inference

import "github.com/brensch/pit/game"

// Encode writes the board cells as float32 in row-major order, reusing dst
// when it is large enough.
func Encode(b game.Board, dst []float32) []float32 {
	if cap(dst) < len(b.Cells) {
		dst = make([]float32, len(b.Cells))
	}
	dst = dst[:len(b.Cells)]
	for i, v := range b.Cells {
		dst[i] = float32(v)
	}
	return dst
}
