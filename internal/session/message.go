package session

import (
	"github.com/notebook-gateway/backend/internal/kernel"
	"github.com/notebook-gateway/backend/internal/notebook"
)

// Kind discriminates the inbound message variants a session handles.
type Kind string

const (
	KindAction       Kind = "action"
	KindExecuteReply Kind = "executeReply"
	KindKernelStatus Kind = "kernelStatus"
	KindOutputData   Kind = "outputData"
	KindHealth       Kind = "health"
)

// Envelope is one inbound item: a client action or a kernel event. Every
// envelope passes through the manager's processor chain before the session's
// state machine sees it.
type Envelope struct {
	Kind         Kind
	ConnectionID string
	Action       notebook.Action
	Reply        *kernel.ExecuteReply
	Status       *kernel.Status
	Output       *kernel.OutputData
	Healthy      bool
}

// Connection is one attached client. The transport layer owns the concrete
// implementation; the session only pushes updates and registers callbacks.
//
// Path returns the handshake-time target path and is never updated on
// rename: callers needing current identity must ask the session.
type Connection interface {
	ID() string
	Path() string
	SendUpdate(notebook.Update)
	OnAction(func(raw []byte))
	OnDisconnect(func())
}
