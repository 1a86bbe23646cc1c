// Package session binds kernels, notebook documents, and client connections
// into per-path sessions and routes all message traffic between them.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notebook-gateway/backend/internal/eventlog"
	"github.com/notebook-gateway/backend/internal/kernel"
	"github.com/notebook-gateway/backend/internal/model"
	"github.com/notebook-gateway/backend/internal/monitoring"
	"github.com/notebook-gateway/backend/internal/notebook"
	"github.com/notebook-gateway/backend/internal/storage"
)

// State is the session lifecycle state.
type State string

const (
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateRestarting   State = "restarting"
	StateShuttingDown State = "shuttingDown"
	StateTerminated   State = "terminated"
)

// DefaultMaxInflightRequests caps the request-id to cell-reference table
// when no explicit limit is configured.
const DefaultMaxInflightRequests = 256

// execItem is one queued kernel execution request. A connID identifies an ad
// hoc request whose output is delivered privately; otherwise ref targets a
// notebook cell.
type execItem struct {
	requestID string
	ref       notebook.CellRef
	connID    string
	code      string
}

// Session owns one kernel, one notebook document, and the set of attached
// client connections for a single logical path. The document and execution
// queue are mutated only by the session's own handlers; external actors
// submit messages through ProcessAction and the kernel callbacks.
type Session struct {
	createdAt   time.Time
	kernels     kernel.Manager
	store       storage.ContentStore
	log         *zap.Logger
	metrics     *monitoring.Metrics
	recorder    *eventlog.Recorder
	maxInflight int

	// onMessage routes an inbound envelope through the manager's processor
	// chain; the chain's continuation is Deliver.
	onMessage func(*Envelope)

	mu            sync.Mutex
	path          string
	state         State
	kern          kernel.Handle
	doc           *notebook.Document
	conns         []Connection
	requestCells  map[string]notebook.CellRef
	requestOrder  []string
	requestConns  map[string]string
	execQueue     *queue.Queue
	execPending   bool
	currentReqID  string
	savePending   bool
	saveRequested bool
	lastSaved     *time.Time

	done       chan struct{}
	terminated bool
}

// Config carries session construction dependencies.
type Config struct {
	Path                string
	Kernels             kernel.Manager
	Store               storage.ContentStore
	Logger              *zap.Logger
	Metrics             *monitoring.Metrics
	Recorder            *eventlog.Recorder
	MaxInflightRequests int
}

// New constructs a session in the Starting state. Call Start to spawn the
// kernel and load the document.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxInflightRequests <= 0 {
		cfg.MaxInflightRequests = DefaultMaxInflightRequests
	}

	s := &Session{
		createdAt:    time.Now(),
		kernels:      cfg.Kernels,
		store:        cfg.Store,
		log:          cfg.Logger.With(zap.String("path", cfg.Path)),
		metrics:      cfg.Metrics,
		recorder:     cfg.Recorder,
		maxInflight:  cfg.MaxInflightRequests,
		path:         cfg.Path,
		state:        StateStarting,
		requestCells: make(map[string]notebook.CellRef),
		requestConns: make(map[string]string),
		execQueue:    queue.New(),
		done:         make(chan struct{}),
	}
	s.onMessage = s.Deliver
	return s
}

// Path returns the session's current logical path.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NumClients returns the number of attached connections.
func (s *Session) NumClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// LastSaved returns the completion time of the most recent successful save.
func (s *Session) LastSaved() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaved
}

// Recorder returns the session's event log recorder, if any.
func (s *Session) Recorder() *eventlog.Recorder { return s.recorder }

// Done is closed once shutdown has completed.
func (s *Session) Done() <-chan struct{} { return s.done }

// setOnMessage installs the manager's processor-chain entry point. Must be
// called before Start.
func (s *Session) setOnMessage(fn func(*Envelope)) { s.onMessage = fn }

func (s *Session) setPath(path string) {
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
}

// Start spawns the kernel and loads the document concurrently. Either
// failure fails the whole start; a document load failure additionally
// notifies any already-attached connections.
func (s *Session) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	var spawnErr, loadErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		spawnErr = s.spawnKernel(ctx)
	}()
	go func() {
		defer wg.Done()
		doc, err := s.store.Read(ctx, s.Path(), true)
		if err != nil {
			loadErr = fmt.Errorf("failed to load notebook: %w", err)
			s.broadcast(notebook.NewSessionStatusUpdate(s.Path(), string(StateStarting), "notebook load failed"))
			return
		}
		s.mu.Lock()
		s.doc = doc
		s.mu.Unlock()
	}()
	wg.Wait()

	if spawnErr != nil {
		return fmt.Errorf("failed to spawn kernel: %w", spawnErr)
	}
	if loadErr != nil {
		return loadErr
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	s.broadcast(notebook.NewSessionStatusUpdate(s.Path(), string(StateRunning), ""))
	return nil
}

// spawnKernel shuts down any previously attached kernel, then spawns a fresh
// one with a fresh identifier and registers the session's handlers as its
// callbacks. At most one kernel is ever attached.
func (s *Session) spawnKernel(ctx context.Context) error {
	s.mu.Lock()
	prev := s.kern
	s.kern = nil
	s.mu.Unlock()

	if prev != nil {
		if err := prev.Shutdown(); err != nil {
			s.log.Warn("previous kernel shutdown failed", zap.Error(err))
		}
	}

	cb := kernel.Callbacks{
		OnExecuteReply: s.processExecuteReply,
		OnOutputData:   s.processOutputData,
		OnStatus:       s.processKernelStatus,
		OnHealth:       s.processHealth,
	}
	handle, err := s.kernels.Spawn(ctx, uuid.NewString(), cb)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.kern = handle
	s.mu.Unlock()
	return nil
}

// Attach adds a connection and sends it the current notebook snapshot and
// session status. Attaching an already-attached connection is a no-op.
func (s *Session) Attach(conn Connection) {
	s.mu.Lock()
	for _, c := range s.conns {
		if c.ID() == conn.ID() {
			s.mu.Unlock()
			return
		}
	}
	s.conns = append(s.conns, conn)
	var snapshot notebook.Update
	if s.doc != nil {
		snapshot = notebook.NewSnapshotUpdate(s.path, s.doc)
	}
	path, state := s.path, s.state
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ConnectionsActive.Inc()
	}
	if snapshot != nil {
		conn.SendUpdate(snapshot)
	}
	conn.SendUpdate(notebook.NewSessionStatusUpdate(path, string(state), ""))
}

// Detach removes a connection. Detaching an unknown id is a no-op.
func (s *Session) Detach(connID string) {
	s.mu.Lock()
	removed := false
	for i, c := range s.conns {
		if c.ID() == connID {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()

	if removed && s.metrics != nil {
		s.metrics.ConnectionsActive.Dec()
	}
}

// ProcessAction submits a client action into the message pipeline.
func (s *Session) ProcessAction(connID string, action notebook.Action) {
	s.onMessage(&Envelope{Kind: KindAction, ConnectionID: connID, Action: action})
}

func (s *Session) processExecuteReply(r kernel.ExecuteReply) {
	s.onMessage(&Envelope{Kind: KindExecuteReply, Reply: &r})
}

func (s *Session) processOutputData(o kernel.OutputData) {
	s.onMessage(&Envelope{Kind: KindOutputData, Output: &o})
}

func (s *Session) processKernelStatus(st kernel.Status) {
	s.onMessage(&Envelope{Kind: KindKernelStatus, Status: &st})
}

func (s *Session) processHealth(healthy bool) {
	s.onMessage(&Envelope{Kind: KindHealth, Healthy: healthy})
}

// Deliver is the continuation invoked after the processor chain: it performs
// the actual state transition for one message.
func (s *Session) Deliver(env *Envelope) {
	switch env.Kind {
	case KindAction:
		if err := s.handleAction(env.ConnectionID, env.Action); err != nil {
			s.log.Error("action dispatch failed", zap.Error(err))
		}
	case KindExecuteReply:
		s.handleExecuteReply(env.Reply)
	case KindOutputData:
		s.handleOutputData(env.Output)
	case KindKernelStatus:
		s.handleKernelStatus(env.Status)
	case KindHealth:
		s.handleHealth(env.Healthy)
	}
}

// handleAction dispatches one action by variant. An unrecognized kind is a
// protocol mismatch and returns an error; stale references inside known
// kinds are logged and swallowed.
func (s *Session) handleAction(connID string, action notebook.Action) error {
	switch a := action.(type) {
	case *notebook.Composite:
		// Not atomic: a failure partway leaves prior sub-actions applied.
		for _, sub := range a.SubActions {
			if err := s.handleAction(connID, sub); err != nil {
				return err
			}
		}
		return nil

	case *notebook.ExecuteCell:
		s.enqueueCellExecute(a.Ref)
		return nil

	case *notebook.ExecuteCells:
		s.mu.Lock()
		refs := s.doc.CodeCells()
		s.mu.Unlock()
		for _, ref := range refs {
			s.enqueueCellExecute(ref)
		}
		return nil

	case *notebook.ExecuteSource:
		s.enqueueAdhocExecute(connID, a.Source)
		return nil

	case *notebook.Rename:
		// The manager's rename processor already re-keyed the index and
		// updated our path; announce it and persist under the new path.
		s.mu.Lock()
		path, state := s.path, s.state
		s.mu.Unlock()
		s.broadcast(notebook.NewSessionStatusUpdate(path, string(state), "renamed"))
		s.save()
		return nil

	case *notebook.UpdateCell, *notebook.ClearCellOutput, *notebook.AddCell,
		*notebook.DeleteCell, *notebook.MoveCell, *notebook.ClearOutputs,
		*notebook.AddCellOutput, *notebook.SetCellState:
		s.applyAction(connID, action)
		return nil

	default:
		return fmt.Errorf("%w: %T", model.ErrUnknownAction, action)
	}
}

// applyAction routes a document mutation through Apply, broadcasting the
// resulting update and scheduling a save. A rejected action is logged and
// reported privately to the issuing connection.
func (s *Session) applyAction(connID string, action notebook.Action) {
	s.mu.Lock()
	upd, err := s.doc.Apply(action)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("action rejected by document",
			zap.String("action", action.ActionName()), zap.Error(err))
		s.sendTo(connID, notebook.NewErrorUpdate(action.ActionName(), err.Error()))
		return
	}
	s.broadcastLocked(upd)
	s.mu.Unlock()
	s.save()
}

// enqueueCellExecute records the request-id to cell-reference mapping, marks
// the cell pending, and queues the request. A stale cell reference drops the
// action without dispatching.
func (s *Session) enqueueCellExecute(ref notebook.CellRef) {
	s.mu.Lock()
	cell, err := s.doc.Cell(ref)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("execute dropped: cell no longer exists",
			zap.String("cellId", ref.CellID), zap.Error(err))
		return
	}

	requestID := uuid.NewString()
	s.trackRequestLocked(requestID, ref)
	if upd, applyErr := s.doc.Apply(&notebook.SetCellState{Ref: ref, State: notebook.CellStatePending}); applyErr == nil {
		s.broadcastLocked(upd)
	}
	s.execQueue.Add(&execItem{requestID: requestID, ref: ref, code: cell.Source})
	s.dispatchNextLocked()
	s.mu.Unlock()
}

// enqueueAdhocExecute queues a connection-scoped execute whose output is
// routed privately back to the issuer.
func (s *Session) enqueueAdhocExecute(connID, source string) {
	s.mu.Lock()
	requestID := uuid.NewString()
	s.requestConns[requestID] = connID
	s.execQueue.Add(&execItem{requestID: requestID, connID: connID, code: source})
	s.dispatchNextLocked()
	s.mu.Unlock()
}

// dispatchNextLocked sends the queue head to the kernel if no execution is
// pending. Kernels process one request at a time; queued requests preserve
// submission order.
func (s *Session) dispatchNextLocked() {
	for !s.execPending && s.execQueue.Length() > 0 {
		if s.kern == nil {
			// Leave the queue intact; a respawn resumes dispatch.
			return
		}
		item := s.execQueue.Remove().(*execItem)

		kctx := kernel.Context{ConnectionID: item.connID}
		if item.connID == "" {
			upd, err := s.doc.Apply(&notebook.SetCellState{Ref: item.ref, State: notebook.CellStateExecuting})
			if err != nil {
				// Cell deleted while queued.
				s.log.Warn("skipping queued execute: cell no longer exists",
					zap.String("cellId", item.ref.CellID))
				s.untrackRequestLocked(item.requestID)
				continue
			}
			s.broadcastLocked(upd)
			kctx = kernel.Context{WorksheetID: item.ref.WorksheetID, CellID: item.ref.CellID}
		}

		if err := s.kern.Execute(item.requestID, item.code, kctx); err != nil {
			s.log.Error("kernel dispatch failed",
				zap.String("requestId", item.requestID), zap.Error(err))
			s.untrackRequestLocked(item.requestID)
			delete(s.requestConns, item.requestID)
			if item.connID == "" {
				if upd, applyErr := s.doc.Apply(&notebook.SetCellState{Ref: item.ref, State: notebook.CellStateIdle}); applyErr == nil {
					s.broadcastLocked(upd)
				}
			}
			continue
		}

		s.execPending = true
		s.currentReqID = item.requestID
	}
}

// trackRequestLocked records an in-flight request, evicting the oldest entry
// once the cap is reached so the table cannot grow without bound.
func (s *Session) trackRequestLocked(requestID string, ref notebook.CellRef) {
	if len(s.requestOrder) >= s.maxInflight {
		oldest := s.requestOrder[0]
		s.requestOrder = s.requestOrder[1:]
		delete(s.requestCells, oldest)
		s.log.Warn("evicted oldest in-flight request", zap.String("requestId", oldest))
	}
	s.requestCells[requestID] = ref
	s.requestOrder = append(s.requestOrder, requestID)
}

func (s *Session) untrackRequestLocked(requestID string) {
	if _, ok := s.requestCells[requestID]; !ok {
		return
	}
	delete(s.requestCells, requestID)
	for i, id := range s.requestOrder {
		if id == requestID {
			s.requestOrder = append(s.requestOrder[:i], s.requestOrder[i+1:]...)
			break
		}
	}
}

// handleExecuteReply resolves the in-flight request, updates the target
// cell, and dispatches the next queued request. A failed reply discards all
// not-yet-dispatched queued requests. Replies for unknown request ids are
// logged and dropped without mutating the document.
func (s *Session) handleExecuteReply(r *kernel.ExecuteReply) {
	s.mu.Lock()
	ref, isCell := s.requestCells[r.RequestID]
	_, isAdhoc := s.requestConns[r.RequestID]
	if !isCell && !isAdhoc {
		// A reply for an evicted request still releases the in-flight slot;
		// only the cell mutation is lost.
		if r.RequestID == s.currentReqID {
			s.currentReqID = ""
			s.execPending = false
			s.dispatchNextLocked()
		}
		s.mu.Unlock()
		s.log.Warn("execute reply for unknown request", zap.String("requestId", r.RequestID))
		return
	}
	s.untrackRequestLocked(r.RequestID)
	delete(s.requestConns, r.RequestID)
	if r.RequestID == s.currentReqID {
		s.currentReqID = ""
		s.execPending = false
	}

	persist := false
	if isCell {
		if r.Success {
			upd, err := s.doc.Apply(&notebook.SetCellState{
				Ref:    ref,
				State:  notebook.CellStateSuccess,
				Prompt: strconv.Itoa(r.ExecutionCounter),
			})
			if err == nil {
				s.broadcastLocked(upd)
			}
			if s.metrics != nil {
				s.metrics.ExecutionsTotal.WithLabelValues("success").Inc()
			}
		} else {
			errOut := notebook.NewErrorOutput(r.ErrorName, r.ErrorMessage, r.Traceback)
			if upd, err := s.doc.Apply(&notebook.AddCellOutput{Ref: ref, Output: errOut}); err == nil {
				s.broadcastLocked(upd)
			}
			if upd, err := s.doc.Apply(&notebook.SetCellState{Ref: ref, State: notebook.CellStateError}); err == nil {
				s.broadcastLocked(upd)
			}
			// An error aborts batch execution: everything still queued is
			// discarded before the next dispatch.
			s.clearQueueLocked()
			if s.metrics != nil {
				s.metrics.ExecutionsTotal.WithLabelValues("error").Inc()
			}
		}
		persist = true
	}

	s.dispatchNextLocked()
	s.mu.Unlock()

	if persist {
		s.save()
	}
}

// clearQueueLocked discards every queued request, resetting affected cells
// to idle.
func (s *Session) clearQueueLocked() {
	for s.execQueue.Length() > 0 {
		item := s.execQueue.Remove().(*execItem)
		if item.connID != "" {
			delete(s.requestConns, item.requestID)
			continue
		}
		s.untrackRequestLocked(item.requestID)
		if upd, err := s.doc.Apply(&notebook.SetCellState{Ref: item.ref, State: notebook.CellStateIdle}); err == nil {
			s.broadcastLocked(upd)
		}
	}
}

// handleOutputData routes kernel output either privately to the requesting
// connection or into the target cell's output list. Output with no routing
// metadata, or for an unknown request id, is logged and dropped.
func (s *Session) handleOutputData(o *kernel.OutputData) {
	switch {
	case o.Context.ConnectionID != "":
		s.mu.Lock()
		conn := s.connLocked(o.Context.ConnectionID)
		s.mu.Unlock()
		if conn == nil {
			s.log.Warn("output for unknown connection",
				zap.String("connectionId", o.Context.ConnectionID))
			return
		}
		conn.SendUpdate(notebook.NewOutputDataUpdate(o.RequestID, o.Type, o.Mimetypes))

	case o.Context.CellID != "":
		s.mu.Lock()
		if _, known := s.requestCells[o.RequestID]; !known {
			s.mu.Unlock()
			s.log.Warn("output for unknown request", zap.String("requestId", o.RequestID))
			return
		}
		ref := notebook.CellRef{WorksheetID: o.Context.WorksheetID, CellID: o.Context.CellID}
		upd, err := s.doc.Apply(&notebook.AddCellOutput{
			Ref:    ref,
			Output: notebook.Output{Type: o.Type, Mimetypes: o.Mimetypes},
		})
		if err != nil {
			s.mu.Unlock()
			s.log.Warn("dropping output for stale cell", zap.Error(err))
			return
		}
		s.broadcastLocked(upd)
		s.mu.Unlock()
		s.save()

	default:
		s.log.Warn("unroutable kernel output", zap.String("requestId", o.RequestID))
	}
}

// handleKernelStatus relays kernel busy/idle transitions to clients.
func (s *Session) handleKernelStatus(st *kernel.Status) {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()
	s.broadcast(notebook.NewSessionStatusUpdate(path, st.State, ""))
}

// handleHealth triggers a kernel respawn when a health check reports
// unhealthy. Respawn failures are logged; there is no retry loop.
func (s *Session) handleHealth(healthy bool) {
	if healthy {
		return
	}
	s.log.Warn("kernel unhealthy, respawning")
	if err := s.respawn(context.Background()); err != nil {
		s.log.Error("kernel respawn failed", zap.Error(err))
	}
}

// Reset respawns the kernel on request.
func (s *Session) Reset(ctx context.Context) error {
	return s.respawn(ctx)
}

// respawn broadcasts a restarting status, discards queued work that can
// never complete against the dead kernel, and attaches a fresh kernel.
func (s *Session) respawn(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateRestarting
	path := s.path
	// The in-flight request died with the kernel: release its cell and drop
	// the tracking entry so a late reply from the old kernel cannot mutate
	// the document.
	if s.currentReqID != "" {
		if ref, ok := s.requestCells[s.currentReqID]; ok {
			s.untrackRequestLocked(s.currentReqID)
			if upd, err := s.doc.Apply(&notebook.SetCellState{Ref: ref, State: notebook.CellStateIdle}); err == nil {
				s.broadcastLocked(upd)
			}
		}
		delete(s.requestConns, s.currentReqID)
	}
	s.clearQueueLocked()
	s.execPending = false
	s.currentReqID = ""
	s.broadcastLocked(notebook.NewSessionStatusUpdate(path, string(StateRestarting), ""))
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.KernelRespawns.Inc()
	}

	if err := s.spawnKernel(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateRunning
	s.dispatchNextLocked()
	s.broadcastLocked(notebook.NewSessionStatusUpdate(path, string(StateRunning), ""))
	s.mu.Unlock()
	return nil
}

// Shutdown kills the kernel best-effort, notifies clients, and signals
// completion asynchronously; teardown latency of the kernel process never
// blocks shutdown. Idempotent.
func (s *Session) Shutdown() <-chan struct{} {
	s.mu.Lock()
	if s.terminated || s.state == StateShuttingDown {
		s.mu.Unlock()
		return s.done
	}
	s.state = StateShuttingDown
	k := s.kern
	s.kern = nil
	path := s.path
	s.broadcastLocked(notebook.NewSessionStatusUpdate(path, "shutdown", ""))
	s.mu.Unlock()

	if k != nil {
		go func() {
			if err := k.Shutdown(); err != nil {
				s.log.Warn("kernel shutdown failed", zap.Error(err))
			}
		}()
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.log.Debug("event log close failed", zap.Error(err))
		}
	}

	go func() {
		s.mu.Lock()
		s.state = StateTerminated
		s.terminated = true
		s.mu.Unlock()
		close(s.done)
	}()
	return s.done
}

// save schedules a coalescing write of the current document. At most one
// write is ever in flight per session; a save requested while one is in
// flight sets a flag, and completion of the in-flight write issues exactly
// one further write with the then-current document state.
func (s *Session) save() {
	s.mu.Lock()
	if s.savePending {
		s.saveRequested = true
		s.mu.Unlock()
		return
	}
	s.savePending = true
	snapshot := s.doc.Clone()
	path := s.path
	s.mu.Unlock()

	go s.writeSnapshot(path, snapshot)
}

func (s *Session) writeSnapshot(path string, snapshot *notebook.Document) {
	for {
		err := s.store.Write(context.Background(), path, snapshot)
		if err != nil {
			s.log.Error("notebook save failed", zap.Error(err))
			if s.metrics != nil {
				s.metrics.SavesTotal.WithLabelValues("failed").Inc()
			}
			s.broadcast(notebook.NewSaveStateUpdate(false, nil))
		} else {
			now := time.Now()
			s.mu.Lock()
			s.lastSaved = &now
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.SavesTotal.WithLabelValues("succeeded").Inc()
			}
			s.broadcast(notebook.NewSaveStateUpdate(true, &now))
		}

		s.mu.Lock()
		if !s.saveRequested {
			s.savePending = false
			s.mu.Unlock()
			return
		}
		s.saveRequested = false
		snapshot = s.doc.Clone()
		path = s.path
		s.mu.Unlock()
	}
}

func (s *Session) connLocked(connID string) Connection {
	for _, c := range s.conns {
		if c.ID() == connID {
			return c
		}
	}
	return nil
}

// sendTo pushes an update to a single connection, if it is still attached.
func (s *Session) sendTo(connID string, u notebook.Update) {
	if connID == "" {
		return
	}
	s.mu.Lock()
	conn := s.connLocked(connID)
	s.mu.Unlock()
	if conn != nil {
		conn.SendUpdate(u)
	}
}

func (s *Session) broadcast(u notebook.Update) {
	s.mu.Lock()
	conns := make([]Connection, len(s.conns))
	copy(conns, s.conns)
	s.mu.Unlock()
	for _, c := range conns {
		c.SendUpdate(u)
	}
}

// broadcastLocked sends to all connections while holding the session lock.
// Connection SendUpdate implementations must not call back into the session.
func (s *Session) broadcastLocked(u notebook.Update) {
	for _, c := range s.conns {
		c.SendUpdate(u)
	}
}
