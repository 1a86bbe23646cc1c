package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/notebook-gateway/backend/internal/kernel"
	"github.com/notebook-gateway/backend/internal/notebook"
	"github.com/notebook-gateway/backend/internal/storage"
)

type execCall struct {
	requestID string
	code      string
	kctx      kernel.Context
}

// fakeKernel records execute calls; replies are injected by the test through
// the callbacks captured at spawn.
type fakeKernel struct {
	mu        sync.Mutex
	id        string
	calls     []execCall
	execErr   error
	shutdowns int
}

func (k *fakeKernel) ID() string { return k.id }

func (k *fakeKernel) Execute(requestID, code string, kctx kernel.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.execErr != nil {
		return k.execErr
	}
	k.calls = append(k.calls, execCall{requestID: requestID, code: code, kctx: kctx})
	return nil
}

func (k *fakeKernel) Shutdown() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.shutdowns++
	return nil
}

func (k *fakeKernel) callCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.calls)
}

func (k *fakeKernel) call(i int) execCall {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls[i]
}

func (k *fakeKernel) shutdownCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.shutdowns
}

type fakeKernelManager struct {
	mu       sync.Mutex
	spawns   int
	spawnErr error
	kern     *fakeKernel
	cb       kernel.Callbacks
}

func (m *fakeKernelManager) Spawn(ctx context.Context, id string, cb kernel.Callbacks) (kernel.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spawns++
	if m.spawnErr != nil {
		return nil, m.spawnErr
	}
	m.kern = &fakeKernel{id: id}
	m.cb = cb
	return m.kern, nil
}

func (m *fakeKernelManager) kernel() *fakeKernel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kern
}

func (m *fakeKernelManager) callbacks() kernel.Callbacks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cb
}

func (m *fakeKernelManager) spawnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spawns
}

// fakeConn records every update pushed by the session.
type fakeConn struct {
	mu      sync.Mutex
	id      string
	path    string
	updates []notebook.Update
}

func newFakeConn(id, path string) *fakeConn {
	return &fakeConn{id: id, path: path}
}

func (c *fakeConn) ID() string                   { return c.id }
func (c *fakeConn) Path() string                 { return c.path }
func (c *fakeConn) OnAction(fn func(raw []byte)) {}
func (c *fakeConn) OnDisconnect(fn func())       {}

func (c *fakeConn) SendUpdate(u notebook.Update) {
	c.mu.Lock()
	c.updates = append(c.updates, u)
	c.mu.Unlock()
}

func (c *fakeConn) all() []notebook.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notebook.Update, len(c.updates))
	copy(out, c.updates)
	return out
}

func (c *fakeConn) ofKind(name string) []notebook.Update {
	var out []notebook.Update
	for _, u := range c.all() {
		if u.UpdateName() == name {
			out = append(out, u)
		}
	}
	return out
}

// lastCellUpdate returns the most recent update for the given cell id.
func (c *fakeConn) lastCellUpdate(cellID string) *notebook.CellUpdate {
	var last *notebook.CellUpdate
	for _, u := range c.all() {
		if cu, ok := u.(*notebook.CellUpdate); ok && cu.Cell.ID == cellID {
			last = cu
		}
	}
	return last
}

func newTestSession(t *testing.T, store storage.ContentStore) (*Session, *fakeKernelManager) {
	t.Helper()
	km := &fakeKernelManager{}
	sess := New(Config{
		Path:    "nb.ipynb",
		Kernels: km,
		Store:   store,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, sess.Start(context.Background()))
	return sess, km
}

// attach connects a fake client and returns the cell ref of the blank
// notebook's single code cell, taken from the attach snapshot.
func attach(t *testing.T, sess *Session, conn *fakeConn) notebook.CellRef {
	t.Helper()
	sess.Attach(conn)
	snaps := conn.ofKind("notebook.snapshot")
	require.Len(t, snaps, 1)
	doc := snaps[0].(*notebook.SnapshotUpdate).Notebook
	ws := doc.Worksheets[0]
	return notebook.CellRef{WorksheetID: ws.ID, CellID: ws.Cells[0].ID}
}

func setSource(sess *Session, ref notebook.CellRef, source string) {
	sess.ProcessAction("", &notebook.UpdateCell{Ref: ref, Source: &source})
}

func addCodeCell(sess *Session, worksheetID, cellID, source string) notebook.CellRef {
	sess.ProcessAction("", &notebook.AddCell{
		WorksheetID: worksheetID,
		CellID:      cellID,
		Type:        notebook.CellTypeCode,
		Source:      source,
		Index:       99,
	})
	return notebook.CellRef{WorksheetID: worksheetID, CellID: cellID}
}

func TestAttachSendsSnapshotThenStatus(t *testing.T) {
	sess, _ := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	attach(t, sess, conn)

	updates := conn.all()
	require.GreaterOrEqual(t, len(updates), 2)
	assert.Equal(t, "notebook.snapshot", updates[0].UpdateName())
	assert.Equal(t, "session.status", updates[1].UpdateName())
	status := updates[1].(*notebook.SessionStatusUpdate)
	assert.Equal(t, string(StateRunning), status.KernelState)

	// Attaching the same connection again is a no-op.
	sess.Attach(conn)
	assert.Equal(t, 1, sess.NumClients())
}

func TestExecuteCellLifecycle(t *testing.T) {
	store := storage.NewMemoryStore()
	sess, km := newTestSession(t, store)
	conn := newFakeConn("c1", "nb.ipynb")
	ref := attach(t, sess, conn)

	setSource(sess, ref, "x = 1")
	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref})

	kern := km.kernel()
	require.Equal(t, 1, kern.callCount())
	call := kern.call(0)
	assert.Equal(t, "x = 1", call.code)
	assert.Equal(t, ref.CellID, call.kctx.CellID)
	assert.Equal(t, ref.WorksheetID, call.kctx.WorksheetID)

	cu := conn.lastCellUpdate(ref.CellID)
	require.NotNil(t, cu)
	assert.Equal(t, notebook.CellStateExecuting, cu.Cell.State)

	km.callbacks().OnExecuteReply(kernel.ExecuteReply{
		RequestID:        call.requestID,
		ExecutionCounter: 7,
		Success:          true,
	})

	cu = conn.lastCellUpdate(ref.CellID)
	require.NotNil(t, cu)
	assert.Equal(t, notebook.CellStateSuccess, cu.Cell.State)
	assert.Equal(t, "7", cu.Cell.Prompt)

	// The result is persisted asynchronously.
	require.Eventually(t, func() bool {
		doc, err := store.Read(context.Background(), "nb.ipynb", false)
		if err != nil {
			return false
		}
		cell, err := doc.Cell(ref)
		return err == nil && cell.State == notebook.CellStateSuccess
	}, time.Second, 5*time.Millisecond)
}

func TestExecutionIsFIFOAndSingleFlight(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	ref1 := attach(t, sess, conn)
	setSource(sess, ref1, "first")
	ref2 := addCodeCell(sess, ref1.WorksheetID, "c-2", "second")

	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref1})
	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref2})

	kern := km.kernel()
	require.Equal(t, 1, kern.callCount(), "second request must wait for the first reply")

	// The queued cell is marked pending, not executing.
	cu := conn.lastCellUpdate(ref2.CellID)
	require.NotNil(t, cu)
	assert.Equal(t, notebook.CellStatePending, cu.Cell.State)

	km.callbacks().OnExecuteReply(kernel.ExecuteReply{
		RequestID: kern.call(0).requestID, ExecutionCounter: 1, Success: true,
	})
	require.Equal(t, 2, kern.callCount())
	assert.Equal(t, "second", kern.call(1).code)

	km.callbacks().OnExecuteReply(kernel.ExecuteReply{
		RequestID: kern.call(1).requestID, ExecutionCounter: 2, Success: true,
	})
	assert.Equal(t, 2, kern.callCount())
	assert.Equal(t, "2", conn.lastCellUpdate(ref2.CellID).Cell.Prompt)
}

func TestExecuteErrorDiscardsQueue(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	ref1 := attach(t, sess, conn)
	setSource(sess, ref1, "boom")
	ref2 := addCodeCell(sess, ref1.WorksheetID, "c-2", "never runs")
	ref3 := addCodeCell(sess, ref1.WorksheetID, "c-3", "never runs either")

	sess.ProcessAction("c1", &notebook.ExecuteCells{})
	kern := km.kernel()
	require.Equal(t, 1, kern.callCount())

	km.callbacks().OnExecuteReply(kernel.ExecuteReply{
		RequestID:    kern.call(0).requestID,
		Success:      false,
		ErrorName:    "ValueError",
		ErrorMessage: "boom",
		Traceback:    []string{"line 1"},
	})

	assert.Equal(t, 1, kern.callCount(), "queued requests must not be dispatched after an error")

	cu := conn.lastCellUpdate(ref1.CellID)
	require.NotNil(t, cu)
	assert.Equal(t, notebook.CellStateError, cu.Cell.State)
	require.Len(t, cu.Cell.Outputs, 1)
	assert.Equal(t, "ValueError", cu.Cell.Outputs[0].ErrorName)

	for _, ref := range []notebook.CellRef{ref2, ref3} {
		cu := conn.lastCellUpdate(ref.CellID)
		require.NotNil(t, cu)
		assert.Equal(t, notebook.CellStateIdle, cu.Cell.State)
	}

	// The pipeline recovers: a new execute dispatches immediately.
	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref2})
	assert.Equal(t, 2, kern.callCount())
}

func TestStaleReplyIgnored(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	attach(t, sess, conn)

	before := len(conn.all())
	km.callbacks().OnExecuteReply(kernel.ExecuteReply{RequestID: "long-gone", Success: true})
	assert.Equal(t, before, len(conn.all()))
}

func TestDeletedCellSkippedAtDispatch(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	ref1 := attach(t, sess, conn)
	setSource(sess, ref1, "a")
	ref2 := addCodeCell(sess, ref1.WorksheetID, "c-2", "b")

	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref1})
	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref2})
	sess.ProcessAction("c1", &notebook.DeleteCell{Ref: ref2})

	kern := km.kernel()
	km.callbacks().OnExecuteReply(kernel.ExecuteReply{
		RequestID: kern.call(0).requestID, ExecutionCounter: 1, Success: true,
	})

	assert.Equal(t, 1, kern.callCount(), "deleted cell must be skipped, not executed")
}

func TestAdhocExecuteRoutesOutputPrivately(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	connA := newFakeConn("conn-a", "nb.ipynb")
	connB := newFakeConn("conn-b", "nb.ipynb")
	attach(t, sess, connA)
	sess.Attach(connB)

	sess.ProcessAction("conn-a", &notebook.ExecuteSource{Source: "2+2"})

	kern := km.kernel()
	require.Equal(t, 1, kern.callCount())
	call := kern.call(0)
	assert.Equal(t, "conn-a", call.kctx.ConnectionID)
	assert.Empty(t, call.kctx.CellID)

	km.callbacks().OnOutputData(kernel.OutputData{
		RequestID: call.requestID,
		Type:      "result",
		Mimetypes: map[string]string{"text/plain": "4"},
		Context:   call.kctx,
	})

	require.Len(t, connA.ofKind("kernel.outputData"), 1)
	assert.Empty(t, connB.ofKind("kernel.outputData"))

	out := connA.ofKind("kernel.outputData")[0].(*notebook.OutputDataUpdate)
	assert.Equal(t, "4", out.Mimetypes["text/plain"])

	km.callbacks().OnExecuteReply(kernel.ExecuteReply{RequestID: call.requestID, Success: true})
	assert.Equal(t, 1, kern.callCount())
}

func TestCellOutputAppliedAndBroadcast(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	connA := newFakeConn("conn-a", "nb.ipynb")
	connB := newFakeConn("conn-b", "nb.ipynb")
	ref := attach(t, sess, connA)
	sess.Attach(connB)
	setSource(sess, ref, "print('hi')")

	sess.ProcessAction("conn-a", &notebook.ExecuteCell{Ref: ref})
	call := km.kernel().call(0)

	km.callbacks().OnOutputData(kernel.OutputData{
		RequestID: call.requestID,
		Type:      "stdout",
		Mimetypes: map[string]string{"text/plain": "hi\n"},
		Context:   kernel.Context{WorksheetID: ref.WorksheetID, CellID: ref.CellID},
	})

	for _, conn := range []*fakeConn{connA, connB} {
		cu := conn.lastCellUpdate(ref.CellID)
		require.NotNil(t, cu)
		require.Len(t, cu.Cell.Outputs, 1)
		assert.Equal(t, "stdout", cu.Cell.Outputs[0].Type)
	}
}

func TestOutputForUnknownRequestDropped(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	ref := attach(t, sess, conn)

	before := len(conn.all())
	km.callbacks().OnOutputData(kernel.OutputData{
		RequestID: "never-issued",
		Type:      "stdout",
		Context:   kernel.Context{WorksheetID: ref.WorksheetID, CellID: ref.CellID},
	})
	km.callbacks().OnOutputData(kernel.OutputData{RequestID: "no-context"})
	assert.Equal(t, before, len(conn.all()))
}

func TestRejectedActionReportedToIssuerOnly(t *testing.T) {
	sess, _ := newTestSession(t, storage.NewMemoryStore())
	connA := newFakeConn("conn-a", "nb.ipynb")
	connB := newFakeConn("conn-b", "nb.ipynb")
	ref := attach(t, sess, connA)
	sess.Attach(connB)

	bad := ref
	bad.CellID = "ghost"
	src := "x"
	sess.ProcessAction("conn-a", &notebook.UpdateCell{Ref: bad, Source: &src})

	require.Len(t, connA.ofKind("error"), 1)
	assert.Empty(t, connB.ofKind("error"))
	errUpd := connA.ofKind("error")[0].(*notebook.ErrorUpdate)
	assert.Equal(t, "cell.update", errUpd.Action)
}

// gatedStore blocks each write until the test releases it, so saves can be
// held in flight deterministically.
type gatedStore struct {
	inner *storage.MemoryStore
	gate  chan struct{}

	mu     sync.Mutex
	writes []*notebook.Document
}

func newGatedStore() *gatedStore {
	return &gatedStore{inner: storage.NewMemoryStore(), gate: make(chan struct{})}
}

func (g *gatedStore) Read(ctx context.Context, path string, createIfMissing bool) (*notebook.Document, error) {
	return g.inner.Read(ctx, path, createIfMissing)
}

func (g *gatedStore) Write(ctx context.Context, path string, doc *notebook.Document) error {
	g.mu.Lock()
	g.writes = append(g.writes, doc.Clone())
	g.mu.Unlock()
	<-g.gate
	return g.inner.Write(ctx, path, doc)
}

func (g *gatedStore) Rename(ctx context.Context, oldPath, newPath string) error {
	return g.inner.Rename(ctx, oldPath, newPath)
}

func (g *gatedStore) writeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.writes)
}

func (g *gatedStore) write(i int) *notebook.Document {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes[i]
}

func TestSavesCoalesce(t *testing.T) {
	store := newGatedStore()
	sess, _ := newTestSession(t, store)
	conn := newFakeConn("c1", "nb.ipynb")
	ref := attach(t, sess, conn)

	// First mutation starts a save that blocks in the store.
	setSource(sess, ref, "v1")
	require.Eventually(t, func() bool { return store.writeCount() == 1 }, time.Second, time.Millisecond)

	// Further mutations while the write is in flight coalesce into exactly
	// one follow-up save.
	for i := 2; i <= 5; i++ {
		setSource(sess, ref, fmt.Sprintf("v%d", i))
	}

	store.gate <- struct{}{}
	require.Eventually(t, func() bool { return store.writeCount() == 2 }, time.Second, time.Millisecond)
	store.gate <- struct{}{}

	// The follow-up snapshot carries the final state, and no third write
	// ever happens.
	cell, err := store.write(1).Cell(ref)
	require.NoError(t, err)
	assert.Equal(t, "v5", cell.Source)

	require.Eventually(t, func() bool {
		return len(conn.ofKind("notebook.saveState")) >= 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, store.writeCount())

	saved := conn.ofKind("notebook.saveState")[0].(*notebook.SaveStateUpdate)
	assert.True(t, saved.Succeeded)
	assert.NotNil(t, saved.LastSaved)
}

func TestSaveFailureReported(t *testing.T) {
	store := &failingStore{MemoryStore: storage.NewMemoryStore()}
	km := &fakeKernelManager{}
	sess := New(Config{Path: "nb.ipynb", Kernels: km, Store: store, Logger: zaptest.NewLogger(t)})
	require.NoError(t, sess.Start(context.Background()))

	conn := newFakeConn("c1", "nb.ipynb")
	ref := attach(t, sess, conn)
	setSource(sess, ref, "v1")

	require.Eventually(t, func() bool {
		states := conn.ofKind("notebook.saveState")
		return len(states) == 1 && !states[0].(*notebook.SaveStateUpdate).Succeeded
	}, time.Second, time.Millisecond)
	assert.Nil(t, sess.LastSaved())
}

type failingStore struct {
	*storage.MemoryStore
}

func (s *failingStore) Write(ctx context.Context, path string, doc *notebook.Document) error {
	return fmt.Errorf("disk full")
}

// readErrStore fails every read, as a corrupt or unreadable notebook would.
type readErrStore struct {
	*storage.MemoryStore
}

func (s *readErrStore) Read(ctx context.Context, path string, createIfMissing bool) (*notebook.Document, error) {
	return nil, fmt.Errorf("corrupt notebook file")
}

func TestStartFailsWhenNotebookLoadFails(t *testing.T) {
	km := &fakeKernelManager{}
	sess := New(Config{
		Path:    "nb.ipynb",
		Kernels: km,
		Store:   &readErrStore{MemoryStore: storage.NewMemoryStore()},
		Logger:  zaptest.NewLogger(t),
	})

	conn := newFakeConn("c1", "nb.ipynb")
	sess.Attach(conn)

	require.Error(t, sess.Start(context.Background()))
	assert.NotEqual(t, StateRunning, sess.State())

	var sawLoadFailure bool
	for _, u := range conn.ofKind("session.status") {
		if u.(*notebook.SessionStatusUpdate).Message == "notebook load failed" {
			sawLoadFailure = true
		}
	}
	assert.True(t, sawLoadFailure)

	// The kernel spawned alongside the failed load is torn down with the
	// session.
	sess.Shutdown()
	require.Eventually(t, func() bool {
		return km.kernel().shutdownCount() == 1
	}, time.Second, time.Millisecond)
}

func TestRespawnFailureLeavesRestarting(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	ref := attach(t, sess, conn)
	setSource(sess, ref, "a")

	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref})
	old := km.kernel()
	require.Equal(t, 1, old.callCount())

	km.mu.Lock()
	km.spawnErr = fmt.Errorf("no kernel hosts available")
	km.mu.Unlock()

	km.callbacks().OnHealth(false)

	assert.Equal(t, 2, km.spawnCount())
	assert.Equal(t, StateRestarting, sess.State(), "failed respawn must not report running")
	assert.Equal(t, 1, old.shutdownCount())

	// With no kernel attached, new executes queue but never dispatch.
	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref})
	assert.Equal(t, 1, old.callCount())
}

func TestResetReleasesInflightCell(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	ref := attach(t, sess, conn)
	setSource(sess, ref, "slow running cell")

	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref})
	old := km.kernel()
	staleReq := old.call(0).requestID

	require.NoError(t, sess.Reset(context.Background()))

	cu := conn.lastCellUpdate(ref.CellID)
	require.NotNil(t, cu)
	assert.Equal(t, notebook.CellStateIdle, cu.Cell.State,
		"the in-flight cell must be released on respawn")

	// A late reply from the killed kernel cannot mutate the document.
	km.callbacks().OnExecuteReply(kernel.ExecuteReply{
		RequestID: staleReq, ExecutionCounter: 9, Success: true,
	})
	cu = conn.lastCellUpdate(ref.CellID)
	assert.Equal(t, notebook.CellStateIdle, cu.Cell.State)
	assert.Empty(t, cu.Cell.Prompt)
}

func TestResetRespawnsAndDiscardsQueue(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	ref1 := attach(t, sess, conn)
	setSource(sess, ref1, "a")
	ref2 := addCodeCell(sess, ref1.WorksheetID, "c-2", "b")

	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref1})
	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref2})
	old := km.kernel()

	require.NoError(t, sess.Reset(context.Background()))

	assert.Equal(t, 2, km.spawnCount())
	assert.Equal(t, 1, old.shutdownCount())
	assert.Equal(t, StateRunning, sess.State())

	// The queued cell went back to idle and was never dispatched.
	cu := conn.lastCellUpdate(ref2.CellID)
	require.NotNil(t, cu)
	assert.Equal(t, notebook.CellStateIdle, cu.Cell.State)
	assert.Equal(t, 0, km.kernel().callCount())

	var sawRestarting bool
	for _, u := range conn.ofKind("session.status") {
		if u.(*notebook.SessionStatusUpdate).KernelState == string(StateRestarting) {
			sawRestarting = true
		}
	}
	assert.True(t, sawRestarting)

	// Fresh executes go to the new kernel.
	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref1})
	assert.Equal(t, 1, km.kernel().callCount())
}

func TestHealthFailureRespawns(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	attach(t, sess, conn)

	km.callbacks().OnHealth(true)
	assert.Equal(t, 1, km.spawnCount())

	km.callbacks().OnHealth(false)
	assert.Equal(t, 2, km.spawnCount())
	assert.Equal(t, StateRunning, sess.State())
}

func TestShutdownIsIdempotent(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	attach(t, sess, conn)

	done1 := sess.Shutdown()
	done2 := sess.Shutdown()

	select {
	case <-done1:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not complete")
	}
	<-done2

	assert.Equal(t, StateTerminated, sess.State())
	require.Eventually(t, func() bool {
		return km.kernel().shutdownCount() == 1
	}, time.Second, time.Millisecond)

	var sawShutdown bool
	for _, u := range conn.ofKind("session.status") {
		if u.(*notebook.SessionStatusUpdate).KernelState == "shutdown" {
			sawShutdown = true
		}
	}
	assert.True(t, sawShutdown)
}

func TestDetach(t *testing.T) {
	sess, _ := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	attach(t, sess, conn)
	require.Equal(t, 1, sess.NumClients())

	sess.Detach("c1")
	assert.Equal(t, 0, sess.NumClients())

	sess.Detach("never-attached")
	assert.Equal(t, 0, sess.NumClients())
}

func TestRequestTableEviction(t *testing.T) {
	km := &fakeKernelManager{}
	sess := New(Config{
		Path:                "nb.ipynb",
		Kernels:             km,
		Store:               storage.NewMemoryStore(),
		Logger:              zaptest.NewLogger(t),
		MaxInflightRequests: 1,
	})
	require.NoError(t, sess.Start(context.Background()))

	conn := newFakeConn("c1", "nb.ipynb")
	ref1 := attach(t, sess, conn)
	setSource(sess, ref1, "a")
	ref2 := addCodeCell(sess, ref1.WorksheetID, "c-2", "b")

	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref1})
	sess.ProcessAction("c1", &notebook.ExecuteCell{Ref: ref2})

	kern := km.kernel()
	require.Equal(t, 1, kern.callCount())

	// The first request was evicted; its reply cannot resolve the cell but
	// still releases the in-flight slot.
	km.callbacks().OnExecuteReply(kernel.ExecuteReply{
		RequestID: kern.call(0).requestID, ExecutionCounter: 1, Success: true,
	})
	require.Equal(t, 2, kern.callCount())

	cu := conn.lastCellUpdate(ref1.CellID)
	require.NotNil(t, cu)
	assert.Equal(t, notebook.CellStateExecuting, cu.Cell.State)

	km.callbacks().OnExecuteReply(kernel.ExecuteReply{
		RequestID: kern.call(1).requestID, ExecutionCounter: 2, Success: true,
	})
	assert.Equal(t, notebook.CellStateSuccess, conn.lastCellUpdate(ref2.CellID).Cell.State)
}

func TestCompositeStopsOnUnknownSubAction(t *testing.T) {
	sess, km := newTestSession(t, storage.NewMemoryStore())
	conn := newFakeConn("c1", "nb.ipynb")
	ref := attach(t, sess, conn)
	src := "x = 1"

	sess.ProcessAction("c1", &notebook.Composite{SubActions: []notebook.Action{
		&notebook.UpdateCell{Ref: ref, Source: &src},
		&notebook.ExecuteCell{Ref: ref},
	}})

	require.Equal(t, 1, km.kernel().callCount())
	assert.Equal(t, "x = 1", km.kernel().call(0).code)
}
