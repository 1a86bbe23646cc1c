package session

import (
	"go.uber.org/zap"

	"github.com/notebook-gateway/backend/internal/eventlog"
	"github.com/notebook-gateway/backend/internal/notebook"
)

// Processor inspects, transforms, or filters a message before it reaches the
// session's state machine. Returning nil drops the message and halts the
// chain. Processors run strictly in registration order.
type Processor interface {
	Name() string
	Process(env *Envelope, sess *Session) *Envelope
}

// LoggingProcessor logs every message flowing through the pipeline.
type LoggingProcessor struct {
	log *zap.Logger
}

func NewLoggingProcessor(log *zap.Logger) *LoggingProcessor {
	return &LoggingProcessor{log: log}
}

func (p *LoggingProcessor) Name() string { return "logging" }

func (p *LoggingProcessor) Process(env *Envelope, sess *Session) *Envelope {
	fields := []zap.Field{
		zap.String("kind", string(env.Kind)),
		zap.String("path", sess.Path()),
	}
	if env.ConnectionID != "" {
		fields = append(fields, zap.String("connectionId", env.ConnectionID))
	}
	if env.Action != nil {
		fields = append(fields, zap.String("action", env.Action.ActionName()))
	}
	p.log.Debug("session message", fields...)
	return env
}

// RenameProcessor detects notebook-rename actions and re-keys the manager's
// session index before the session handles the action. A rename that cannot
// be applied (empty or colliding target path) filters the message.
type RenameProcessor struct {
	manager *Manager
	log     *zap.Logger
}

func NewRenameProcessor(manager *Manager, log *zap.Logger) *RenameProcessor {
	return &RenameProcessor{manager: manager, log: log}
}

func (p *RenameProcessor) Name() string { return "rename" }

func (p *RenameProcessor) Process(env *Envelope, sess *Session) *Envelope {
	if env.Kind != KindAction {
		return env
	}
	rename, ok := env.Action.(*notebook.Rename)
	if !ok {
		return env
	}
	if err := p.manager.Rename(sess.Path(), rename.Path); err != nil {
		p.log.Error("rename rejected",
			zap.String("from", sess.Path()),
			zap.String("to", rename.Path),
			zap.Error(err))
		return nil
	}
	return env
}

// RecordingProcessor appends every message to the session's event log.
type RecordingProcessor struct {
	log *zap.Logger
}

func NewRecordingProcessor(log *zap.Logger) *RecordingProcessor {
	return &RecordingProcessor{log: log}
}

func (p *RecordingProcessor) Name() string { return "recording" }

func (p *RecordingProcessor) Process(env *Envelope, sess *Session) *Envelope {
	rec := sess.Recorder()
	if rec == nil {
		return env
	}

	entry := eventlog.Entry{Kind: string(env.Kind), ConnectionID: env.ConnectionID}
	switch {
	case env.Action != nil:
		entry.Action = env.Action.ActionName()
	case env.Reply != nil:
		entry.RequestID = env.Reply.RequestID
	case env.Output != nil:
		entry.RequestID = env.Output.RequestID
		entry.Detail = env.Output.Type
	case env.Status != nil:
		entry.Detail = env.Status.State
	}

	if err := rec.Record(entry); err != nil {
		p.log.Debug("event log write failed", zap.Error(err))
	}
	return env
}
