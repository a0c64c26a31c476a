package source

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when starting a source that is running
	ErrAlreadyRunning = errors.New("source is already running")

	// ErrNoLaunchRow is returned when a replay log has no row with the launch flag set
	ErrNoLaunchRow = errors.New("no launch row found in log")

	// ErrBridgeExited is returned when the external decoder process exits
	ErrBridgeExited = errors.New("bridge process exited")
)

// SourceError is fatal to the current session only: the hub reports it as a
// status error and returns to idle.
type SourceError struct {
	Source string
	Err    error
}

func NewSourceError(source string, err error) *SourceError {
	return &SourceError{Source: source, Err: err}
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Source, e.Err.Error())
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// ParseError is a recoverable per-record error. The record is dropped and
// the stream continues.
type ParseError struct {
	Line string
	Err  error
}

func NewParseError(line string, err error) *ParseError {
	return &ParseError{Line: line, Err: err}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", e.Err.Error())
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ConfigError rejects invalid source parameters before any state changes.
type ConfigError struct {
	Field string
	Msg   string
}

func NewConfigError(field, msg string) *ConfigError {
	return &ConfigError{Field: field, Msg: msg}
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}
