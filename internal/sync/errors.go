package sync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoHead is returned when the repository has no commit to build on
	ErrNoHead = errors.New("repository has no valid HEAD")
	// ErrObjectStore wraps read and write failures on commits, trees, refs and the index
	ErrObjectStore = errors.New("object store failure")
	// ErrNetwork wraps fetch and push failures
	ErrNetwork = errors.New("network failure")
	// ErrConflict is matched by *ConflictError
	ErrConflict = errors.New("merge conflicts detected")
	// ErrUnknownClassification is returned when the merge analysis matches no strategy
	ErrUnknownClassification = errors.New("unknown merge analysis result")
	// ErrPushRejected is returned when the remote refused a pushed reference
	ErrPushRejected = errors.New("push rejected")
)

// ConflictError lists the paths left in conflict by a merge.
type ConflictError struct {
	Paths []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%d conflicting path(s): %s", len(e.Paths), strings.Join(e.Paths, ", "))
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func objectStoreErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrObjectStore, op, err)
}

func networkErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
}
