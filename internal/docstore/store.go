// Package docstore is the document-store transport: authentication, one-shot
// reads, live watches and full-document writes over a hierarchical namespace.
// Backends live in subpackages; FakeStore is an in-memory double for tests.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Canonical document paths.
const (
	PathControl  = "control/settings"
	PathSchedule = "control/schedule"
	PathSystem   = "system/status"
	PathSensors  = "sensors/latest"
)

// WatchedPaths are the documents the dashboard follows live.
var WatchedPaths = []string{PathControl, PathSchedule, PathSystem, PathSensors}

// Identity is the principal a store session acts as.
type Identity struct {
	UID       string
	Anonymous bool
}

// Unsubscribe stops a watch. Safe to call more than once.
type Unsubscribe func()

// ChangeFunc receives the current document; ok is false when the path is absent.
type ChangeFunc func(doc Document, ok bool)

// Store is the document-store contract.
type Store interface {
	// Authenticate establishes the session identity. Concurrent calls share one attempt.
	Authenticate(ctx context.Context) (Identity, error)

	// ReadOnce fetches the document at path. ok is false when it does not exist.
	ReadOnce(ctx context.Context, path string) (doc Document, ok bool, err error)

	// Watch calls onChange with the current value and then on every change until
	// the returned Unsubscribe is called or ctx ends. Errors after setup go to
	// onError; once the watch is healthy again onError is called with nil.
	Watch(ctx context.Context, path string, onChange ChangeFunc, onError func(error)) (Unsubscribe, error)

	// Write replaces the document at path. Failures are *WriteError.
	Write(ctx context.Context, path string, doc Document) error

	// Close releases the backend.
	Close(ctx context.Context) error
}

// Sentinel errors for write failures, matched with errors.Is.
var (
	ErrPermissionDenied = errors.New("docstore: permission denied")
	ErrTransient        = errors.New("docstore: transient failure")
	ErrNotAuthenticated = errors.New("docstore: not authenticated")
	ErrInvalidPath      = errors.New("docstore: invalid path")
)

// WriteErrorKind classifies write failures.
type WriteErrorKind int

const (
	// TransientFailure may succeed if retried later.
	TransientFailure WriteErrorKind = iota
	// PermissionDenied must not be retried; credentials or rules need fixing.
	PermissionDenied
)

func (k WriteErrorKind) String() string {
	if k == PermissionDenied {
		return "permission_denied"
	}
	return "transient"
}

// WriteError is returned by Store.Write.
type WriteError struct {
	Kind WriteErrorKind
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *WriteError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Kind == PermissionDenied
	case ErrTransient:
		return e.Kind == TransientFailure
	}
	return false
}

// Retryable reports whether err is a write failure worth retrying.
func Retryable(err error) bool {
	var we *WriteError
	if errors.As(err, &we) {
		return we.Kind == TransientFailure
	}
	return false
}

// SplitPath splits "collection/id" into its parts.
func SplitPath(path string) (collection, id string, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return parts[0], parts[1], nil
}
