package installer

import (
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

type ErrorKind string

const (
	FetchFailed    ErrorKind = "fetch_failed"
	ExtractFailed  ErrorKind = "extract_failed"
	PersistFailed  ErrorKind = "persist_failed"
	LockContention ErrorKind = "lock_contention"
)

// InstallError reports the failure of one operation, or of the final
// persist. Operations applied before it stay applied.
type InstallError struct {
	Kind       ErrorKind
	Identifier string
	Retryable  bool
	Cause      error
}

func (e *InstallError) Error() string {
	subject := e.Identifier
	if subject == "" {
		subject = "transaction"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, subject)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, subject, e.Cause)
}

func (e *InstallError) Unwrap() error {
	return e.Cause
}

func (e *InstallError) Code() errbuilder.ErrCode {
	switch e.Kind {
	case LockContention:
		return errbuilder.CodeAlreadyExists
	case FetchFailed:
		return errbuilder.CodeNotFound
	case ExtractFailed:
		return errbuilder.CodeFailedPrecondition
	default:
		return errbuilder.CodeInternal
	}
}

func fetchFailed(id string, cause error) *InstallError {
	return &InstallError{Kind: FetchFailed, Identifier: id, Retryable: true, Cause: cause}
}

func extractFailed(id string, cause error) *InstallError {
	return &InstallError{Kind: ExtractFailed, Identifier: id, Cause: cause}
}

func persistFailed(cause error) *InstallError {
	return &InstallError{Kind: PersistFailed, Cause: cause}
}

// NewLockContention reports that another transaction holds the target.
func NewLockContention(cause error) *InstallError {
	return &InstallError{Kind: LockContention, Retryable: true, Cause: cause}
}
