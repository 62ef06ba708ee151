package errors

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound          = errors.New("download job not found")
	ErrStorageNotConfigured = errors.New("no writable library storage configured")
	ErrInvalidDestination   = errors.New("invalid library destination")
	ErrCancelled            = errors.New("download cancelled")
	ErrUnsupportedSource    = errors.New("unsupported download source")
	ErrSourceNotFound       = errors.New("source not found")
)

// TransportError carries the failed share operation and its target.
type TransportError struct {
	Op     string
	Server string
	Share  string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("smb %s //%s/%s: %v", e.Op, e.Server, e.Share, e.Err)
	}
	return fmt.Sprintf("smb %s //%s/%s/%s: %v", e.Op, e.Server, e.Share, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PlacementError reports a backend that rejected a file.
type PlacementError struct {
	Backend string
	Path    string
	Err     error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("%s placement of %s failed: %v", e.Backend, e.Path, e.Err)
}

func (e *PlacementError) Unwrap() error { return e.Err }
