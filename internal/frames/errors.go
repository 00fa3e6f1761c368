package frames

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when no metadata exists for a frame id
	ErrNotFound = errors.New("frame not found")
	// ErrForbidden is returned when a requester tries to delete a frame they do not own
	ErrForbidden = errors.New("frame belongs to another user")
)

// ConversionError reports a failure of the external PNG to DDS conversion.
// Users may retry by uploading again.
type ConversionError struct {
	ID  string
	Err error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion of frame %s failed: %v", e.ID, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// PartialDeleteError reports a delete that removed the metadata but left an
// asset behind. The record is no longer visible.
type PartialDeleteError struct {
	ID  string
	Err error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("frame %s partially removed: %v", e.ID, e.Err)
}

func (e *PartialDeleteError) Unwrap() error { return e.Err }
