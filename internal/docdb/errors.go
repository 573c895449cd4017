package docdb

import "errors"

// Error kinds. Wrap these with fmt.Errorf("...: %w", Err*) at the call
// site so errors.Is still matches while the message carries context.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrAttachment = errors.New("attachment error")
	ErrInternal   = errors.New("internal server error")
)
