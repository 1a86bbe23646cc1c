// Package kernel defines the contract between sessions and the external
// compute-kernel process manager, plus an in-process implementation used for
// tests and local development. The wire protocol to a real kernel process is
// owned by the implementation, not by this contract.
package kernel

import "context"

// Context carries routing metadata attached to an execute request. Output
// produced for the request is routed back either to a single connection (ad
// hoc execution) or to a notebook cell.
type Context struct {
	ConnectionID string `json:"connectionId,omitempty"`
	WorksheetID  string `json:"worksheetId,omitempty"`
	CellID       string `json:"cellId,omitempty"`
}

// ExecuteReply is the kernel's terminal response to one execute request.
type ExecuteReply struct {
	RequestID        string
	ExecutionCounter int
	Success          bool
	ErrorName        string
	ErrorMessage     string
	Traceback        []string
}

// OutputData is a display/stream output event emitted during execution.
type OutputData struct {
	RequestID string
	Type      string // "result", "stdout", "stderr", "error"
	Mimetypes map[string]string
	Context   Context
}

// Status reports the kernel's processing state.
type Status struct {
	State string // "starting", "idle", "busy"
}

// Callbacks are the session methods a spawned kernel reports into. All
// callbacks may be invoked from kernel-owned goroutines.
type Callbacks struct {
	OnExecuteReply func(ExecuteReply)
	OnOutputData   func(OutputData)
	OnStatus       func(Status)
	OnHealth       func(healthy bool)
}

// Handle is one live kernel attached to a session.
type Handle interface {
	// ID returns the kernel identifier assigned at spawn time.
	ID() string

	// Execute submits one request. The reply and any output arrive later
	// through the callbacks registered at spawn.
	Execute(requestID, code string, kctx Context) error

	// Shutdown kills the kernel. Idempotent; best effort.
	Shutdown() error
}

// Manager spawns and kills kernel processes. Implementations own process
// lifecycle and port allocation.
type Manager interface {
	Spawn(ctx context.Context, id string, cb Callbacks) (Handle, error)
}
