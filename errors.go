package refstack

import (
	"errors"
	"fmt"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, unreachable services, file not found, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError represents a run with failing tests (exit code 1)
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// FetchError means the guideline could not be retrieved or parsed. It aborts
// the run before any test executes.
type FetchError struct {
	Ref string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching guideline %s: %v", e.Ref, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CatalogError means the external test runner could not be queried for its
// tests. It aborts the run before any test executes.
type CatalogError struct {
	Err error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("querying test catalog: %v", e.Err)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// RunError means the runner process itself failed before producing any
// results. Test failures are not run errors.
type RunError struct {
	Err error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("running tests: %v", e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// UploadKind classifies an upload failure; each kind is independently
// retryable using the same local result file.
type UploadKind string

const (
	UploadAuth     UploadKind = "auth"
	UploadNetwork  UploadKind = "network"
	UploadRejected UploadKind = "rejected"
)

// UploadError means transmitting results failed. The local result file is
// untouched.
type UploadError struct {
	Kind UploadKind
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading results (%s): %v", e.Kind, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
