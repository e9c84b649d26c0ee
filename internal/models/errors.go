package models

import "errors"

// Error kinds shared by every stage of a carve. Failures wrap exactly one of
// these so callers can classify them with errors.Is.
var (
	// ErrLoad marks a malformed or missing projection or image source.
	ErrLoad = errors.New("load error")

	// ErrConfiguration marks invalid parameters or inconsistent inputs,
	// such as mismatched view counts or a non-positive kernel size.
	ErrConfiguration = errors.New("configuration error")

	// ErrIO marks an output destination that cannot be written.
	ErrIO = errors.New("io error")
)
