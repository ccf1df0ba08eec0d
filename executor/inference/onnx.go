package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/pit/game"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	DefaultBatchSize    = 32
	DefaultBatchTimeout = 1 * time.Millisecond
)

var ErrClosed = errors.New("inference client closed")

// OnnxClientConfig describes the model's tensors and the batching policy.
// The model takes a [batch, rows, cols] float input and returns a
// [batch, actions] probability vector and a [batch, 1] value.
type OnnxClientConfig struct {
	Rows       int
	Cols       int
	ActionSize int

	InputName  string
	PolicyName string
	ValueName  string

	BatchSize    int
	BatchTimeout time.Duration
}

// ConfigFor returns the default tensor layout for g.
func ConfigFor(g game.Game) OnnxClientConfig {
	rows, cols := g.BoardSize()
	return OnnxClientConfig{
		Rows:         rows,
		Cols:         cols,
		ActionSize:   g.ActionSize(),
		InputName:    "input",
		PolicyName:   "policy",
		ValueName:    "value",
		BatchSize:    DefaultBatchSize,
		BatchTimeout: DefaultBatchTimeout,
	}
}

func (c OnnxClientConfig) inputSize() int { return c.Rows * c.Cols }

type inferenceRequest struct {
	input    []float32
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	policy []float32
	value  float32
	err    error
}

// RuntimeStats summarises batching behaviour for the dashboard.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

// OnnxClient evaluates boards with ONNX Runtime, batching concurrent
// requests into a single session run.
type OnnxClient struct {
	session      *ort.DynamicAdvancedSession
	requestsChan chan inferenceRequest
	cfg          OnnxClientConfig
	done         chan struct{}
	loopDone     chan struct{}
	closeOnce    sync.Once
	closeErr     error

	totalBatches  atomic.Int64
	totalItems    atomic.Int64
	totalRunNanos atomic.Int64
	lastBatchSize atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func initRuntime() error {
	ortInitOnce.Do(func() {
		if runtime.GOOS == "linux" {
			if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
				ort.SetSharedLibraryPath(p)
			} else {
				cwd, _ := os.Getwd()
				for _, name := range []string{"libonnxruntime.so", "libonnxruntime.so.1"} {
					abs := filepath.Join(cwd, name)
					if _, err := os.Stat(abs); err == nil {
						ort.SetSharedLibraryPath(abs)
						break
					}
				}
			}
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

func NewOnnxClient(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.inputSize() <= 0 || cfg.ActionSize <= 0 {
		return nil, fmt.Errorf("onnx client: invalid tensor layout %dx%d/%d", cfg.Rows, cfg.Cols, cfg.ActionSize)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("onnx client: %w", err)
	}

	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("failed to init ort: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// Many sessions share the host; keep each one single threaded.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err == nil {
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			log.Debug().Err(err).Msg("cuda provider unavailable")
		} else {
			log.Info().Str("model", modelPath).Msg("cuda provider enabled")
		}
	}

	inputs := []string{cfg.InputName}
	outputs := []string{cfg.PolicyName, cfg.ValueName}
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	client := &OnnxClient{
		session:      session,
		cfg:          cfg,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}

	go client.batchLoop()

	return client, nil
}

// Close stops the batching loop, failing queued requests, and destroys the
// session once no batch is running.
func (c *OnnxClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.loopDone
		c.closeErr = c.session.Destroy()
	})
	return c.closeErr
}

// Predict evaluates a canonical board.
func (c *OnnxClient) Predict(b game.Board) ([]float32, float32, error) {
	if b.Rows != c.cfg.Rows || b.Cols != c.cfg.Cols {
		return nil, 0, fmt.Errorf("board %dx%d does not match model input %dx%d", b.Rows, b.Cols, c.cfg.Rows, c.cfg.Cols)
	}

	respChan := make(chan inferenceResponse, 1)
	select {
	case c.requestsChan <- inferenceRequest{input: Encode(b, nil), respChan: respChan}:
	case <-c.done:
		return nil, 0, ErrClosed
	}

	select {
	case resp := <-respChan:
		return resp.policy, resp.value, resp.err
	case <-c.done:
		return nil, 0, ErrClosed
	}
}

func (c *OnnxClient) Stats() RuntimeStats {
	batches := c.totalBatches.Load()
	items := c.totalItems.Load()
	runNanos := c.totalRunNanos.Load()
	return RuntimeStats{
		TotalBatches:  batches,
		TotalItems:    items,
		TotalRunNanos: runNanos,
		LastBatchSize: c.lastBatchSize.Load(),
		QueueLen:      len(c.requestsChan),
		AvgBatchSize:  ratio(float64(items), batches),
		AvgRunMs:      ratio(float64(runNanos)/1e6, batches),
	}
}

func ratio(v float64, n int64) float64 {
	if n == 0 {
		return 0
	}
	return v / float64(n)
}

func (c *OnnxClient) batchLoop() {
	defer close(c.loopDone)
	batchInput := make([]float32, 0, c.cfg.BatchSize*c.cfg.inputSize())
	requests := make([]inferenceRequest, 0, c.cfg.BatchSize)

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(requests) == 0 {
			return
		}
		c.runBatch(requests, batchInput)
		requests = requests[:0]
		batchInput = batchInput[:0]
	}

	for {
		select {
		case <-c.done:
			c.failBatch(requests, ErrClosed)
			return
		case req := <-c.requestsChan:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)
			if len(requests) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (c *OnnxClient) runBatch(requests []inferenceRequest, batchInput []float32) {
	n := int64(len(requests))
	actions := c.cfg.ActionSize
	start := time.Now()

	inputTensor, err := ort.NewTensor(ort.NewShape(n, int64(c.cfg.Rows), int64(c.cfg.Cols)), batchInput)
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, int64(actions)))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, 1))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer valueTensor.Destroy()

	if err := c.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor}); err != nil {
		c.failBatch(requests, err)
		return
	}

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()

	for i, req := range requests {
		policy := make([]float32, actions)
		copy(policy, policyData[i*actions:(i+1)*actions])
		req.respChan <- inferenceResponse{policy: policy, value: valueData[i]}
	}

	c.totalBatches.Add(1)
	c.totalItems.Add(n)
	c.totalRunNanos.Add(time.Since(start).Nanoseconds())
	c.lastBatchSize.Store(n)
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}
