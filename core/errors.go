package core

import (
	"errors"
	"fmt"
)

// ConfigurationError reports malformed construction (duplicate names, empty
// participant list, unresolvable tool reference). It is raised at bootstrap
// before any message flows.
type ConfigurationError struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

func (e *ConfigurationError) Error() string {
	if e.Component == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
}

// NewConfigurationError formats a ConfigurationError.
func NewConfigurationError(component, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Component: component, Message: fmt.Sprintf(format, args...)}
}

// ProtocolError reports a misuse of the runtime protocol: publishing to an
// unknown topic, registering an agent type twice, running while running.
type ProtocolError struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error [%s]: %s", e.Op, e.Message)
}

// NewProtocolError formats a ProtocolError.
func NewProtocolError(op, format string, args ...any) *ProtocolError {
	return &ProtocolError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// UpstreamError wraps a failure of a collaborator (LLM client, tool loop).
type UpstreamError struct {
	Source string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error from %s: %v", e.Source, e.Err)
}

// Unwrap exposes the wrapped error to errors.Is / errors.As.
func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError wraps err. A nil err yields nil.
func NewUpstreamError(source string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Source: source, Err: err}
}

// IsConfiguration reports whether err wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsProtocol reports whether err wraps a ProtocolError.
func IsProtocol(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

// IsUpstream reports whether err wraps an UpstreamError.
func IsUpstream(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}
