package notebook

import (
	"encoding/json"
	"fmt"

	"github.com/notebook-gateway/backend/internal/model"
)

// Action is a client-originated request to mutate notebook state or trigger
// execution. The set of variants is closed; dispatch is an exhaustive type
// switch and an unrecognized kind is a protocol error.
type Action interface {
	ActionName() string
}

// Composite applies its sub-actions in order. Application is not atomic: a
// failure partway leaves prior sub-actions applied.
type Composite struct {
	SubActions []Action
}

func (*Composite) ActionName() string { return "composite" }

// ExecuteCell requests kernel execution of one cell.
type ExecuteCell struct {
	Ref CellRef
}

func (*ExecuteCell) ActionName() string { return "cell.execute" }

// ExecuteCells requests execution of every code cell in document order.
type ExecuteCells struct{}

func (*ExecuteCells) ActionName() string { return "notebook.executeCells" }

// ExecuteSource requests ad hoc kernel execution on behalf of a single
// connection; results are delivered privately to that connection.
type ExecuteSource struct {
	Source string
}

func (*ExecuteSource) ActionName() string { return "kernel.execute" }

// UpdateCell changes a cell's source, type, or metadata. Nil fields are left
// untouched.
type UpdateCell struct {
	Ref      CellRef
	Source   *string
	Type     *CellType
	Metadata map[string]any
}

func (*UpdateCell) ActionName() string { return "cell.update" }

// ClearCellOutput discards a cell's outputs, prompt, and execution state.
type ClearCellOutput struct {
	Ref CellRef
}

func (*ClearCellOutput) ActionName() string { return "cell.clearOutput" }

// AddCell inserts a new cell at the given index (clamped to the worksheet).
type AddCell struct {
	WorksheetID string
	CellID      string
	Type        CellType
	Source      string
	Index       int
}

func (*AddCell) ActionName() string { return "worksheet.addCell" }

// DeleteCell removes a cell from its worksheet.
type DeleteCell struct {
	Ref CellRef
}

func (*DeleteCell) ActionName() string { return "worksheet.deleteCell" }

// MoveCell repositions a cell within its worksheet.
type MoveCell struct {
	Ref   CellRef
	Index int
}

func (*MoveCell) ActionName() string { return "worksheet.moveCell" }

// ClearOutputs discards outputs from every cell in the notebook.
type ClearOutputs struct{}

func (*ClearOutputs) ActionName() string { return "notebook.clearOutputs" }

// Rename moves the notebook to a new logical path. The session manager
// re-keys its index as a message-processor side effect before the session
// sees this action.
type Rename struct {
	Path string
}

func (*Rename) ActionName() string { return "notebook.rename" }

// AddCellOutput appends an output entry to a cell. Generated internally from
// kernel output data, never sent by clients.
type AddCellOutput struct {
	Ref    CellRef
	Output Output
}

func (*AddCellOutput) ActionName() string { return "cell.addOutput" }

// SetCellState transitions a cell's execution state. Generated internally by
// the execution queue, never sent by clients.
type SetCellState struct {
	Ref    CellRef
	State  CellState
	Prompt string
}

func (*SetCellState) ActionName() string { return "cell.setState" }

// wireAction is the envelope shape actions arrive in over the transport.
type wireAction struct {
	Name        string            `json:"name"`
	WorksheetID string            `json:"worksheetId"`
	CellID      string            `json:"cellId"`
	Source      *string           `json:"source"`
	Type        *CellType         `json:"type"`
	Metadata    map[string]any    `json:"metadata"`
	Index       *int              `json:"index"`
	Path        string            `json:"path"`
	SubActions  []json.RawMessage `json:"subActions"`
}

// ParseAction decodes a wire-format action, tagged by its "name" field, into
// the corresponding Action variant. Unknown names yield ErrUnknownAction.
func ParseAction(raw []byte) (Action, error) {
	var wire wireAction
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("malformed action: %w", err)
	}

	ref := CellRef{WorksheetID: wire.WorksheetID, CellID: wire.CellID}

	switch wire.Name {
	case "composite":
		c := &Composite{SubActions: make([]Action, 0, len(wire.SubActions))}
		for _, sub := range wire.SubActions {
			a, err := ParseAction(sub)
			if err != nil {
				return nil, err
			}
			c.SubActions = append(c.SubActions, a)
		}
		return c, nil
	case "cell.execute":
		return &ExecuteCell{Ref: ref}, nil
	case "notebook.executeCells":
		return &ExecuteCells{}, nil
	case "kernel.execute":
		var source string
		if wire.Source != nil {
			source = *wire.Source
		}
		return &ExecuteSource{Source: source}, nil
	case "cell.update":
		return &UpdateCell{Ref: ref, Source: wire.Source, Type: wire.Type, Metadata: wire.Metadata}, nil
	case "cell.clearOutput":
		return &ClearCellOutput{Ref: ref}, nil
	case "worksheet.addCell":
		a := &AddCell{WorksheetID: wire.WorksheetID, CellID: wire.CellID, Type: CellTypeCode}
		if wire.Type != nil {
			a.Type = *wire.Type
		}
		if wire.Source != nil {
			a.Source = *wire.Source
		}
		if wire.Index != nil {
			a.Index = *wire.Index
		}
		return a, nil
	case "worksheet.deleteCell":
		return &DeleteCell{Ref: ref}, nil
	case "worksheet.moveCell":
		a := &MoveCell{Ref: ref}
		if wire.Index != nil {
			a.Index = *wire.Index
		}
		return a, nil
	case "notebook.clearOutputs":
		return &ClearOutputs{}, nil
	case "notebook.rename":
		return &Rename{Path: wire.Path}, nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownAction, wire.Name)
	}
}
