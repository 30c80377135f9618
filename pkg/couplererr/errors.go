// Package couplererr defines the typed error kinds raised across the
// coupler runtime and the exit-code mapping used at the cmd/ boundary.
package couplererr

import (
	"errors"
	"fmt"
)

// Kind identifies which class of failure occurred, matching the seven
// error kinds named in the specification.
type Kind int

const (
	// KindConfig covers malformed or inconsistent configuration.
	KindConfig Kind = iota
	// KindIO covers weight-file access failures (missing, unreadable).
	KindIO
	// KindFormat covers weight-file content failures (missing variables,
	// length mismatches).
	KindFormat
	// KindTopology covers local-box overlap/gap and orphan points.
	KindTopology
	// KindShape covers put/get buffer size mismatches.
	KindShape
	// KindProtocol covers misordered API calls and mismatched field sets.
	KindProtocol
	// KindTransport covers underlying message-passing failures.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindIO:
		return "IOError"
	case KindFormat:
		return "FormatError"
	case KindTopology:
		return "TopologyError"
	case KindShape:
		return "ShapeError"
	case KindProtocol:
		return "ProtocolError"
	case KindTransport:
		return "TransportError"
	default:
		return "UnknownError"
	}
}

// Context carries the grid/peer/timestep information a coupler error is
// attached to. Any field may be left at its zero value when not known.
type Context struct {
	Grid      string
	Peer      int
	HasPeer   bool
	Timestep  int
	HasStep   bool
}

// Error is the single error record the coupler ever raises: a kind, a
// message, and the grid/peer/timestep context it occurred in.
type Error struct {
	Kind    Kind
	Message string
	Context Context
	Wrapped error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Context.Grid != "" {
		s += fmt.Sprintf(" grid=%s", e.Context.Grid)
	}
	if e.Context.HasPeer {
		s += fmt.Sprintf(" peer=%d", e.Context.Peer)
	}
	if e.Context.HasStep {
		s += fmt.Sprintf(" timestep=%d", e.Context.Timestep)
	}
	if e.Wrapped != nil {
		s += fmt.Sprintf(": %v", e.Wrapped)
	}
	return s
}

func (e *Error) Unwrap() error { return e.Wrapped }

func new_(kind Kind, grid string, msg string, args []interface{}, wrapped error) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(msg, args...),
		Context: Context{Grid: grid},
		Wrapped: wrapped,
	}
}

// Config builds a ConfigError for the given grid.
func Config(grid, msg string, args ...interface{}) *Error {
	return new_(KindConfig, grid, msg, args, nil)
}

// IO builds an IOError, typically wrapping the underlying os/io failure.
func IO(grid string, wrapped error, msg string, args ...interface{}) *Error {
	return new_(KindIO, grid, msg, args, wrapped)
}

// Format builds a FormatError describing malformed weight-file contents.
func Format(grid, msg string, args ...interface{}) *Error {
	return new_(KindFormat, grid, msg, args, nil)
}

// Topology builds a TopologyError for box overlap/gap or orphan points.
func Topology(grid, msg string, args ...interface{}) *Error {
	return new_(KindTopology, grid, msg, args, nil)
}

// Shape builds a ShapeError for a put/get buffer-size mismatch.
func Shape(grid, msg string, args ...interface{}) *Error {
	return new_(KindShape, grid, msg, args, nil)
}

// Protocol builds a ProtocolError for a misordered API call or a
// mismatched put/get field set.
func Protocol(grid, msg string, args ...interface{}) *Error {
	return new_(KindProtocol, grid, msg, args, nil)
}

// Transport builds a TransportError wrapping an underlying transport
// failure.
func Transport(grid string, wrapped error, msg string, args ...interface{}) *Error {
	return new_(KindTransport, grid, msg, args, wrapped)
}

// As reports whether err is (or wraps) a *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ExitCode maps an error to the process exit code described in the
// specification's external-interfaces table. Only the cmd/ boundary calls
// this; the library itself never calls os.Exit.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	e, ok := As(err)
	if !ok {
		return 1
	}
	switch e.Kind {
	case KindConfig, KindTopology:
		return 1
	case KindIO, KindFormat:
		return 2
	case KindProtocol, KindShape:
		return 3
	case KindTransport:
		return 4
	default:
		return 1
	}
}
