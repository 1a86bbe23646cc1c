package model

import "errors"

var (
	// ErrPathRequired is returned when a session request is missing the notebook path.
	ErrPathRequired = errors.New("notebook path is required")

	// ErrSessionNotFound is returned when no session exists for a path.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when a rename would collide with a live session.
	ErrSessionExists = errors.New("session already exists for path")

	// ErrNotebookNotFound is returned when a notebook is absent from storage.
	ErrNotebookNotFound = errors.New("notebook not found")

	// ErrWorksheetNotFound is returned when a worksheet id does not resolve.
	ErrWorksheetNotFound = errors.New("worksheet not found")

	// ErrCellNotFound is returned when a cell id does not resolve.
	ErrCellNotFound = errors.New("cell not found")

	// ErrUnknownAction is returned when an action kind is not recognized.
	// This signals a protocol mismatch, not a recoverable runtime condition.
	ErrUnknownAction = errors.New("unknown action")
)
