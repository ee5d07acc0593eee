package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/srg/paws/internal/output"
)

// ErrNoInterfaces is returned when serve is started without any output configured.
var ErrNoInterfaces = errors.New("no interfaces configured")

// FormatUserError turns internal errors into messages for the command line.
// Multi-error chains (errors.Join) are printed one per line.
func FormatUserError(err error) string {
	var pathErr *fs.PathError
	switch {
	case errors.Is(err, output.ErrUnsupported):
		return fmt.Sprintf("%v (this interface kind is not available on this platform)", err)
	case errors.Is(err, fs.ErrPermission) && errors.As(err, &pathErr):
		return fmt.Sprintf("permission denied opening %s - check group membership (video, dialout) or run as root", pathErr.Path)
	case errors.Is(err, ErrNoInterfaces):
		return "no interfaces configured - add at least one entry under 'interfaces' in the config file"
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		parts := joined.Unwrap()
		lines := make([]string, 0, len(parts))
		for _, e := range parts {
			if e != nil {
				lines = append(lines, FormatUserError(e))
			}
		}
		return strings.Join(lines, "\n       ")
	}
	return err.Error()
}
