package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/notebook-gateway/backend/internal/eventlog"
	"github.com/notebook-gateway/backend/internal/kernel"
	"github.com/notebook-gateway/backend/internal/model"
	"github.com/notebook-gateway/backend/internal/monitoring"
	"github.com/notebook-gateway/backend/internal/notebook"
	"github.com/notebook-gateway/backend/internal/storage"
)

// sessionEntry serializes concurrent creation for one path: the first caller
// builds the session, later callers block on ready and share the result.
type sessionEntry struct {
	ready chan struct{}
	sess  *Session
	err   error
}

// ManagerConfig carries manager construction dependencies.
type ManagerConfig struct {
	Kernels             kernel.Manager
	Store               storage.ContentStore
	Logger              *zap.Logger
	Metrics             *monitoring.Metrics
	MaxInflightRequests int
	EventLogDir         string
}

// Manager owns the path-to-session index and the connection registry. All
// inbound messages pass through its processor chain before delivery.
type Manager struct {
	kernels     kernel.Manager
	store       storage.ContentStore
	log         *zap.Logger
	metrics     *monitoring.Metrics
	maxInflight int
	eventLogDir string

	processors []Processor

	mu           sync.Mutex
	sessions     map[string]*sessionEntry
	connSessions map[string]*Session
	conns        map[string]Connection
}

// NewManager constructs a manager with an empty processor chain.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		kernels:      cfg.Kernels,
		store:        cfg.Store,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		maxInflight:  cfg.MaxInflightRequests,
		eventLogDir:  cfg.EventLogDir,
		sessions:     make(map[string]*sessionEntry),
		connSessions: make(map[string]*Session),
		conns:        make(map[string]Connection),
	}
}

// Use appends processors to the chain. Not safe to call once messages flow.
func (m *Manager) Use(ps ...Processor) {
	m.processors = append(m.processors, ps...)
}

// Create returns the session for path, starting one if none exists. The
// second return reports whether this call started the session or joined an
// existing one. Concurrent calls for the same path share a single creation
// attempt; a failed attempt is not cached, so a later call may retry.
func (m *Manager) Create(ctx context.Context, path string) (*Session, bool, error) {
	if path == "" {
		return nil, false, model.ErrPathRequired
	}

	m.mu.Lock()
	if e, ok := m.sessions[path]; ok {
		m.mu.Unlock()
		<-e.ready
		return e.sess, false, e.err
	}
	e := &sessionEntry{ready: make(chan struct{})}
	m.sessions[path] = e
	m.mu.Unlock()

	sess, err := m.startSession(ctx, path)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, path)
		m.mu.Unlock()
		e.err = err
		close(e.ready)
		return nil, false, err
	}

	e.sess = sess
	close(e.ready)
	if m.metrics != nil {
		m.metrics.SessionsActive.Inc()
		m.metrics.SessionsCreated.Inc()
	}
	m.log.Info("session created", zap.String("path", path))
	return sess, true, nil
}

func (m *Manager) startSession(ctx context.Context, path string) (*Session, error) {
	var recorder *eventlog.Recorder
	if m.eventLogDir != "" {
		var err error
		recorder, err = eventlog.NewRecorder(m.eventLogDir, path)
		if err != nil {
			m.log.Warn("event log unavailable", zap.String("path", path), zap.Error(err))
		}
	}

	sess := New(Config{
		Path:                path,
		Kernels:             m.kernels,
		Store:               m.store,
		Logger:              m.log,
		Metrics:             m.metrics,
		Recorder:            recorder,
		MaxInflightRequests: m.maxInflight,
	})
	sess.setOnMessage(func(env *Envelope) { m.handleMessage(sess, env) })

	if err := sess.Start(ctx); err != nil {
		sess.Shutdown()
		return nil, fmt.Errorf("failed to start session for %q: %w", path, err)
	}
	return sess, nil
}

// Get returns the session for path, or ErrSessionNotFound. If a creation is
// in flight it waits for the outcome.
func (m *Manager) Get(path string) (*Session, error) {
	m.mu.Lock()
	e, ok := m.sessions[path]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, path)
	}
	<-e.ready
	if e.err != nil {
		return nil, e.err
	}
	return e.sess, nil
}

// List returns all live sessions.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	entries := make([]*sessionEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]*Session, 0, len(entries))
	for _, e := range entries {
		<-e.ready
		if e.err == nil && e.sess != nil {
			out = append(out, e.sess)
		}
	}
	return out
}

// Shutdown terminates the session for path and removes it from the index,
// along with every connection attached to it.
func (m *Manager) Shutdown(path string) error {
	sess, err := m.Get(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, path)
	for id, s := range m.connSessions {
		if s == sess {
			delete(m.connSessions, id)
			delete(m.conns, id)
		}
	}
	m.mu.Unlock()

	sess.Shutdown()
	if m.metrics != nil {
		m.metrics.SessionsActive.Dec()
	}
	m.log.Info("session shut down", zap.String("path", path))
	return nil
}

// Reset respawns the kernel of the session for path.
func (m *Manager) Reset(ctx context.Context, path string) error {
	sess, err := m.Get(path)
	if err != nil {
		return err
	}
	return sess.Reset(ctx)
}

// Rename re-keys a session's index entry and updates its path. The stored
// notebook is moved best-effort; a storage failure does not undo the
// in-memory rename.
func (m *Manager) Rename(oldPath, newPath string) error {
	if newPath == "" {
		return model.ErrPathRequired
	}
	if oldPath == newPath {
		return nil
	}

	m.mu.Lock()
	e, ok := m.sessions[oldPath]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, oldPath)
	}
	if _, taken := m.sessions[newPath]; taken {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrSessionExists, newPath)
	}
	delete(m.sessions, oldPath)
	m.sessions[newPath] = e
	m.mu.Unlock()

	<-e.ready
	if e.sess != nil {
		e.sess.setPath(newPath)
	}

	if err := m.store.Rename(context.Background(), oldPath, newPath); err != nil {
		m.log.Error("stored notebook rename failed",
			zap.String("from", oldPath), zap.String("to", newPath), zap.Error(err))
	}
	m.log.Info("session renamed", zap.String("from", oldPath), zap.String("to", newPath))
	return nil
}

// Connect attaches a client connection to the session for its target path,
// creating the session on demand. Connecting an already-registered
// connection id is a no-op.
func (m *Manager) Connect(ctx context.Context, conn Connection) error {
	m.mu.Lock()
	if _, ok := m.conns[conn.ID()]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	sess, _, err := m.Create(ctx, conn.Path())
	if err != nil {
		return err
	}

	m.mu.Lock()
	// Re-check: a concurrent Connect for the same id may have won the race
	// while we were creating the session.
	if _, ok := m.conns[conn.ID()]; ok {
		m.mu.Unlock()
		return nil
	}
	m.conns[conn.ID()] = conn
	m.connSessions[conn.ID()] = sess
	m.mu.Unlock()

	connID := conn.ID()
	conn.OnAction(func(raw []byte) {
		action, parseErr := notebook.ParseAction(raw)
		if parseErr != nil {
			m.log.Warn("dropping malformed action",
				zap.String("connectionId", connID), zap.Error(parseErr))
			return
		}
		m.handleMessage(sess, &Envelope{Kind: KindAction, ConnectionID: connID, Action: action})
	})
	conn.OnDisconnect(func() { m.Disconnect(connID) })

	sess.Attach(conn)
	return nil
}

// Disconnect detaches a connection from its session. Unknown ids are a
// no-op.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	sess, ok := m.connSessions[connID]
	delete(m.connSessions, connID)
	delete(m.conns, connID)
	m.mu.Unlock()

	if !ok {
		m.log.Debug("disconnect for unknown connection", zap.String("connectionId", connID))
		return
	}
	sess.Detach(connID)
}

// handleMessage runs the processor chain and delivers the surviving
// envelope to the session.
func (m *Manager) handleMessage(sess *Session, env *Envelope) {
	for _, p := range m.processors {
		env = p.Process(env, sess)
		if env == nil {
			m.log.Debug("message filtered", zap.String("processor", p.Name()))
			if m.metrics != nil {
				m.metrics.MessagesFiltered.Inc()
			}
			return
		}
	}
	sess.Deliver(env)
}

// Close shuts down every session and waits for each to terminate.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := make([]*sessionEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.sessions = make(map[string]*sessionEntry)
	m.connSessions = make(map[string]*Session)
	m.conns = make(map[string]Connection)
	m.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.sess != nil {
			<-e.sess.Shutdown()
		}
	}
}
