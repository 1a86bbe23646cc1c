package notebook

import "time"

// Update is a server-originated notification broadcast to clients reflecting
// a state change. Concrete updates carry their wire tag in the "update"
// field, set by their constructors.
type Update interface {
	UpdateName() string
}

// CellUpdate reflects a change to a single cell.
type CellUpdate struct {
	Update      string `json:"update"`
	WorksheetID string `json:"worksheetId"`
	Cell        *Cell  `json:"cell"`
}

func NewCellUpdate(worksheetID string, c *Cell) *CellUpdate {
	return &CellUpdate{Update: "notebook.cell", WorksheetID: worksheetID, Cell: c.Clone()}
}

func (u *CellUpdate) UpdateName() string { return "notebook.cell" }

// WorksheetUpdate reflects a structural change to a worksheet's cell list.
type WorksheetUpdate struct {
	Update      string  `json:"update"`
	WorksheetID string  `json:"worksheetId"`
	Cells       []*Cell `json:"cells"`
}

func NewWorksheetUpdate(w *Worksheet) *WorksheetUpdate {
	clone := w.Clone()
	return &WorksheetUpdate{Update: "notebook.worksheet", WorksheetID: clone.ID, Cells: clone.Cells}
}

func (u *WorksheetUpdate) UpdateName() string { return "notebook.worksheet" }

// SnapshotUpdate carries the full notebook, sent to a connection when it
// first attaches to a session.
type SnapshotUpdate struct {
	Update   string    `json:"update"`
	Path     string    `json:"path"`
	Notebook *Document `json:"notebook"`
}

func NewSnapshotUpdate(path string, d *Document) *SnapshotUpdate {
	return &SnapshotUpdate{Update: "notebook.snapshot", Path: path, Notebook: d.Clone()}
}

func (u *SnapshotUpdate) UpdateName() string { return "notebook.snapshot" }

// CompositeUpdate groups several updates into one notification.
type CompositeUpdate struct {
	Update  string   `json:"update"`
	Updates []Update `json:"updates"`
}

func NewCompositeUpdate(updates ...Update) *CompositeUpdate {
	return &CompositeUpdate{Update: "composite", Updates: updates}
}

func (u *CompositeUpdate) UpdateName() string { return "composite" }

// SessionStatusUpdate reports session-level state: kernel lifecycle
// transitions, load failures, shutdown.
type SessionStatusUpdate struct {
	Update      string `json:"update"`
	Path        string `json:"path"`
	KernelState string `json:"kernelState"`
	Message     string `json:"message,omitempty"`
}

func NewSessionStatusUpdate(path, kernelState, message string) *SessionStatusUpdate {
	return &SessionStatusUpdate{Update: "session.status", Path: path, KernelState: kernelState, Message: message}
}

func (u *SessionStatusUpdate) UpdateName() string { return "session.status" }

// SaveStateUpdate reports the outcome of a persistence attempt.
type SaveStateUpdate struct {
	Update    string     `json:"update"`
	Succeeded bool       `json:"succeeded"`
	LastSaved *time.Time `json:"lastSaved,omitempty"`
}

func NewSaveStateUpdate(succeeded bool, lastSaved *time.Time) *SaveStateUpdate {
	return &SaveStateUpdate{Update: "notebook.saveState", Succeeded: succeeded, LastSaved: lastSaved}
}

func (u *SaveStateUpdate) UpdateName() string { return "notebook.saveState" }

// OutputDataUpdate delivers ad hoc kernel output privately to the connection
// that requested it.
type OutputDataUpdate struct {
	Update    string            `json:"update"`
	RequestID string            `json:"requestId"`
	Type      string            `json:"type"`
	Mimetypes map[string]string `json:"mimetypes,omitempty"`
}

func NewOutputDataUpdate(requestID, outputType string, mimetypes map[string]string) *OutputDataUpdate {
	return &OutputDataUpdate{Update: "kernel.outputData", RequestID: requestID, Type: outputType, Mimetypes: mimetypes}
}

func (u *OutputDataUpdate) UpdateName() string { return "kernel.outputData" }

// ErrorUpdate tells the issuing connection that its action was rejected.
type ErrorUpdate struct {
	Update  string `json:"update"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

func NewErrorUpdate(action, message string) *ErrorUpdate {
	return &ErrorUpdate{Update: "error", Action: action, Message: message}
}

func (u *ErrorUpdate) UpdateName() string { return "error" }
