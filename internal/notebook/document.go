// Package notebook holds the in-memory notebook document model and the
// action/update vocabulary exchanged between clients, sessions, and kernels.
package notebook

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/notebook-gateway/backend/internal/model"
)

// CellType identifies the kind of content a cell holds.
type CellType string

const (
	CellTypeCode     CellType = "code"
	CellTypeMarkdown CellType = "markdown"
	CellTypeHeading  CellType = "heading"
)

// CellState tracks a code cell through the execution pipeline.
type CellState string

const (
	CellStateIdle      CellState = ""
	CellStatePending   CellState = "pending"
	CellStateExecuting CellState = "executing"
	CellStateSuccess   CellState = "success"
	CellStateError     CellState = "error"
)

// Output is a single entry in a cell's output list.
type Output struct {
	Type         string            `json:"type"` // "result", "stdout", "stderr", "error"
	Mimetypes    map[string]string `json:"mimetypes,omitempty"`
	ErrorName    string            `json:"errorName,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Traceback    []string          `json:"traceback,omitempty"`
}

// NewErrorOutput builds the output entry recorded when the kernel reports a
// failed execution.
func NewErrorOutput(name, message string, traceback []string) Output {
	text := name
	if message != "" {
		text += ": " + message
	}
	for _, frame := range traceback {
		text += "\n" + frame
	}
	return Output{
		Type:         "error",
		Mimetypes:    map[string]string{"text/plain": text},
		ErrorName:    name,
		ErrorMessage: message,
		Traceback:    traceback,
	}
}

// Cell is one notebook cell.
type Cell struct {
	ID       string         `json:"id"`
	Type     CellType       `json:"type"`
	Source   string         `json:"source"`
	Outputs  []Output       `json:"outputs,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
	State    CellState      `json:"state,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the cell.
func (c *Cell) Clone() *Cell {
	out := *c
	if c.Outputs != nil {
		out.Outputs = make([]Output, len(c.Outputs))
		copy(out.Outputs, c.Outputs)
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Worksheet is an ordered list of cells.
type Worksheet struct {
	ID    string  `json:"id"`
	Name  string  `json:"name,omitempty"`
	Cells []*Cell `json:"cells"`
}

// Clone returns a deep copy of the worksheet.
func (w *Worksheet) Clone() *Worksheet {
	out := &Worksheet{ID: w.ID, Name: w.Name, Cells: make([]*Cell, len(w.Cells))}
	for i, c := range w.Cells {
		out.Cells[i] = c.Clone()
	}
	return out
}

func (w *Worksheet) cellIndex(cellID string) int {
	for i, c := range w.Cells {
		if c.ID == cellID {
			return i
		}
	}
	return -1
}

// CellRef identifies a cell within a document.
type CellRef struct {
	WorksheetID string `json:"worksheetId"`
	CellID      string `json:"cellId"`
}

// Document is the in-memory notebook representation. It is owned by exactly
// one session and mutated only through Apply.
type Document struct {
	Worksheets []*Worksheet   `json:"worksheets"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewDocument returns a blank notebook with a single empty code cell.
func NewDocument() *Document {
	return &Document{
		Worksheets: []*Worksheet{
			{
				ID:    uuid.NewString(),
				Cells: []*Cell{{ID: uuid.NewString(), Type: CellTypeCode}},
			},
		},
	}
}

// Worksheet resolves a worksheet by id.
func (d *Document) Worksheet(worksheetID string) (*Worksheet, error) {
	for _, w := range d.Worksheets {
		if w.ID == worksheetID {
			return w, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", model.ErrWorksheetNotFound, worksheetID)
}

// Cell resolves a cell by reference. A missing worksheet or cell is a
// stale-reference condition: the notebook may have been mutated concurrently
// with the caller's view of it.
func (d *Document) Cell(ref CellRef) (*Cell, error) {
	w, err := d.Worksheet(ref.WorksheetID)
	if err != nil {
		return nil, err
	}
	i := w.cellIndex(ref.CellID)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrCellNotFound, ref.CellID)
	}
	return w.Cells[i], nil
}

// CodeCells returns references to every code cell in worksheet and cell
// iteration order.
func (d *Document) CodeCells() []CellRef {
	var refs []CellRef
	for _, w := range d.Worksheets {
		for _, c := range w.Cells {
			if c.Type == CellTypeCode {
				refs = append(refs, CellRef{WorksheetID: w.ID, CellID: c.ID})
			}
		}
	}
	return refs
}

// Clone returns a deep copy of the document, used to snapshot state for an
// asynchronous save without blocking further mutation.
func (d *Document) Clone() *Document {
	out := &Document{Worksheets: make([]*Worksheet, len(d.Worksheets))}
	for i, w := range d.Worksheets {
		out.Worksheets[i] = w.Clone()
	}
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
