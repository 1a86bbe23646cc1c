package notebook

import (
	"fmt"

	"github.com/notebook-gateway/backend/internal/model"
)

// Apply mutates the document according to the action and returns the update
// to broadcast. A stale cell or worksheet reference returns an error and
// leaves the document unchanged. Execution, composite, and rename actions
// are not document mutations and are rejected here; the session dispatches
// those itself.
func (d *Document) Apply(action Action) (Update, error) {
	switch a := action.(type) {
	case *UpdateCell:
		c, err := d.Cell(a.Ref)
		if err != nil {
			return nil, err
		}
		if a.Source != nil {
			c.Source = *a.Source
		}
		if a.Type != nil {
			c.Type = *a.Type
		}
		if a.Metadata != nil {
			if c.Metadata == nil {
				c.Metadata = make(map[string]any, len(a.Metadata))
			}
			for k, v := range a.Metadata {
				c.Metadata[k] = v
			}
		}
		return NewCellUpdate(a.Ref.WorksheetID, c), nil

	case *ClearCellOutput:
		c, err := d.Cell(a.Ref)
		if err != nil {
			return nil, err
		}
		c.Outputs = nil
		c.Prompt = ""
		c.State = CellStateIdle
		return NewCellUpdate(a.Ref.WorksheetID, c), nil

	case *AddCell:
		w, err := d.Worksheet(a.WorksheetID)
		if err != nil {
			return nil, err
		}
		if w.cellIndex(a.CellID) >= 0 {
			return nil, fmt.Errorf("cell %s already exists in worksheet %s", a.CellID, a.WorksheetID)
		}
		cell := &Cell{ID: a.CellID, Type: a.Type, Source: a.Source}
		i := clamp(a.Index, len(w.Cells))
		w.Cells = append(w.Cells, nil)
		copy(w.Cells[i+1:], w.Cells[i:])
		w.Cells[i] = cell
		return NewWorksheetUpdate(w), nil

	case *DeleteCell:
		w, err := d.Worksheet(a.Ref.WorksheetID)
		if err != nil {
			return nil, err
		}
		i := w.cellIndex(a.Ref.CellID)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", model.ErrCellNotFound, a.Ref.CellID)
		}
		w.Cells = append(w.Cells[:i], w.Cells[i+1:]...)
		return NewWorksheetUpdate(w), nil

	case *MoveCell:
		w, err := d.Worksheet(a.Ref.WorksheetID)
		if err != nil {
			return nil, err
		}
		i := w.cellIndex(a.Ref.CellID)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", model.ErrCellNotFound, a.Ref.CellID)
		}
		cell := w.Cells[i]
		w.Cells = append(w.Cells[:i], w.Cells[i+1:]...)
		j := clamp(a.Index, len(w.Cells))
		w.Cells = append(w.Cells, nil)
		copy(w.Cells[j+1:], w.Cells[j:])
		w.Cells[j] = cell
		return NewWorksheetUpdate(w), nil

	case *ClearOutputs:
		updates := make([]Update, 0, len(d.Worksheets))
		for _, w := range d.Worksheets {
			for _, c := range w.Cells {
				c.Outputs = nil
				c.Prompt = ""
				c.State = CellStateIdle
			}
			updates = append(updates, NewWorksheetUpdate(w))
		}
		return NewCompositeUpdate(updates...), nil

	case *AddCellOutput:
		c, err := d.Cell(a.Ref)
		if err != nil {
			return nil, err
		}
		c.Outputs = append(c.Outputs, a.Output)
		return NewCellUpdate(a.Ref.WorksheetID, c), nil

	case *SetCellState:
		c, err := d.Cell(a.Ref)
		if err != nil {
			return nil, err
		}
		c.State = a.State
		if a.Prompt != "" {
			c.Prompt = a.Prompt
		}
		return NewCellUpdate(a.Ref.WorksheetID, c), nil

	default:
		return nil, fmt.Errorf("%w: %s is not a document mutation", model.ErrUnknownAction, action.ActionName())
	}
}

func clamp(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}
