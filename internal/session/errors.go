package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/rollcall/api/schemas"
	"github.com/xkilldash9x/rollcall/internal/browser"
	"github.com/xkilldash9x/rollcall/internal/credentials"
	"github.com/xkilldash9x/rollcall/internal/wait"
)

// StepError is the terminal failure of a session: the step it happened in, its classification and
// the underlying cause.
type StepError struct {
	Step schemas.Step
	Kind schemas.ErrorKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// failure tags err with a kind decided by the step itself. The step is filled in by the sequencer.
func failure(kind schemas.ErrorKind, err error) error {
	return &StepError{Kind: kind, Err: err}
}

// Classify maps an error to the taxonomy recorded on outcomes.
func Classify(err error) schemas.ErrorKind {
	var se *StepError
	switch {
	case err == nil:
		return schemas.ErrorKindNone
	case errors.As(err, &se) && se.Kind != schemas.ErrorKindNone:
		return se.Kind
	case errors.Is(err, wait.ErrCancelled), errors.Is(err, context.Canceled):
		return schemas.ErrorKindCancelled
	case errors.Is(err, wait.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return schemas.ErrorKindTimeout
	case errors.Is(err, browser.ErrStaleElement):
		return schemas.ErrorKindStaleElement
	case errors.Is(err, browser.ErrNotFound):
		return schemas.ErrorKindElementNotFound
	case errors.Is(err, browser.ErrClickIntercepted):
		return schemas.ErrorKindActionRejected
	case errors.Is(err, credentials.ErrInvalidCredential):
		return schemas.ErrorKindInvalidCredential
	default:
		return schemas.ErrorKindInternal
	}
}
