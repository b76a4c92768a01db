package fusion

import (
	"fmt"

	"github.com/pkg/errors"
)

// IOError reports a missing or malformed input or an unwritable output. It aborts the scan.
type IOError struct {
	Path string
	Err  error
}

// NewIOError wraps err with the offending path. A nil err stays nil.
func NewIOError(path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Path: path, Err: err}
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error on %q: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// GeometryError reports an unusable camera. The view is dropped from its scan.
type GeometryError struct {
	View int
	Err  error
}

// NewGeometryError wraps err with the offending view id.
func NewGeometryError(view int, err error) error {
	return &GeometryError{View: view, Err: err}
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry error in view %d: %v", e.View, e.Err)
}

func (e *GeometryError) Unwrap() error {
	return e.Err
}

// IsIOError reports whether err carries an IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// IsGeometryError reports whether err carries a GeometryError.
func IsGeometryError(err error) bool {
	var geoErr *GeometryError
	return errors.As(err, &geoErr)
}
