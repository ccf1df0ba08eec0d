package inference

import (
	"fmt"
	"sync/atomic"

	"github.com/brensch/pit/game"
)

// OnnxPool fans out Predict calls across multiple OnnxClient instances,
// each with its own batching loop and session.
type OnnxPool struct {
	clients []*OnnxClient
	rr      atomic.Uint64
}

func NewOnnxClientPool(modelPath string, sessions int, cfg OnnxClientConfig) (*OnnxPool, error) {
	if sessions <= 0 {
		sessions = 1
	}

	clients := make([]*OnnxClient, 0, sessions)
	for i := 0; i < sessions; i++ {
		c, err := NewOnnxClient(modelPath, cfg)
		if err != nil {
			for _, created := range clients {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create onnx client %d/%d: %w", i+1, sessions, err)
		}
		clients = append(clients, c)
	}

	return &OnnxPool{clients: clients}, nil
}

func (p *OnnxPool) Predict(b game.Board) ([]float32, float32, error) {
	idx := int(p.rr.Add(1)-1) % len(p.clients)
	return p.clients[idx].Predict(b)
}

func (p *OnnxPool) Stats() RuntimeStats {
	var out RuntimeStats
	for _, c := range p.clients {
		st := c.Stats()
		out.TotalBatches += st.TotalBatches
		out.TotalItems += st.TotalItems
		out.TotalRunNanos += st.TotalRunNanos
		out.QueueLen += st.QueueLen
		if st.LastBatchSize > out.LastBatchSize {
			out.LastBatchSize = st.LastBatchSize
		}
	}
	out.AvgBatchSize = ratio(float64(out.TotalItems), out.TotalBatches)
	out.AvgRunMs = ratio(float64(out.TotalRunNanos)/1e6, out.TotalBatches)
	return out
}

func (p *OnnxPool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
