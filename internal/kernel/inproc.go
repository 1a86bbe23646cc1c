package kernel

import (
	"context"
	"fmt"
	"sync"
)

// InprocManager runs kernels as goroutines inside the gateway process. Each
// kernel evaluates nothing: it echoes the submitted source back as a result
// output and replies with an incrementing execution counter. It exists so
// the session pipeline can run end to end without an external interpreter.
type InprocManager struct {
	mu      sync.Mutex
	kernels map[string]*inprocKernel
}

// NewInprocManager creates an in-process kernel manager.
func NewInprocManager() *InprocManager {
	return &InprocManager{kernels: make(map[string]*inprocKernel)}
}

// Spawn starts a new kernel goroutine and registers the session's callbacks.
func (m *InprocManager) Spawn(ctx context.Context, id string, cb Callbacks) (Handle, error) {
	if id == "" {
		return nil, fmt.Errorf("kernel id is required")
	}

	k := &inprocKernel{
		id:       id,
		cb:       cb,
		requests: make(chan execRequest, 16),
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	m.kernels[id] = k
	m.mu.Unlock()

	go k.run(m)

	if cb.OnStatus != nil {
		cb.OnStatus(Status{State: "idle"})
	}
	return k, nil
}

// Get returns a live kernel by id.
func (m *InprocManager) Get(id string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.kernels[id]
	return k, ok
}

func (m *InprocManager) remove(id string) {
	m.mu.Lock()
	delete(m.kernels, id)
	m.mu.Unlock()
}

// Close shuts down every live kernel.
func (m *InprocManager) Close() error {
	m.mu.Lock()
	kernels := make([]*inprocKernel, 0, len(m.kernels))
	for _, k := range m.kernels {
		kernels = append(kernels, k)
	}
	m.mu.Unlock()

	for _, k := range kernels {
		k.Shutdown()
	}
	return nil
}

type execRequest struct {
	id   string
	code string
	kctx Context
}

type inprocKernel struct {
	id       string
	cb       Callbacks
	requests chan execRequest
	done     chan struct{}

	mu      sync.Mutex
	closed  bool
	counter int
}

func (k *inprocKernel) ID() string { return k.id }

func (k *inprocKernel) Execute(requestID, code string, kctx Context) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return fmt.Errorf("kernel %s is shut down", k.id)
	}
	k.mu.Unlock()

	select {
	case k.requests <- execRequest{id: requestID, code: code, kctx: kctx}:
		return nil
	case <-k.done:
		return fmt.Errorf("kernel %s is shut down", k.id)
	}
}

func (k *inprocKernel) Shutdown() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	close(k.done)
	k.mu.Unlock()
	return nil
}

func (k *inprocKernel) run(m *InprocManager) {
	defer m.remove(k.id)

	for {
		select {
		case req := <-k.requests:
			k.serve(req)
		case <-k.done:
			return
		}
	}
}

func (k *inprocKernel) serve(req execRequest) {
	if k.cb.OnStatus != nil {
		k.cb.OnStatus(Status{State: "busy"})
	}

	k.mu.Lock()
	k.counter++
	counter := k.counter
	k.mu.Unlock()

	if k.cb.OnOutputData != nil {
		k.cb.OnOutputData(OutputData{
			RequestID: req.id,
			Type:      "result",
			Mimetypes: map[string]string{"text/plain": req.code},
			Context:   req.kctx,
		})
	}
	if k.cb.OnExecuteReply != nil {
		k.cb.OnExecuteReply(ExecuteReply{
			RequestID:        req.id,
			ExecutionCounter: counter,
			Success:          true,
		})
	}

	if k.cb.OnStatus != nil {
		k.cb.OnStatus(Status{State: "idle"})
	}
}
