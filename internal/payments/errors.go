package payments

import (
	"fmt"
	"strings"
)

// SetupError means payment-intent creation did not yield everything the
// payment sheet needs. The hold and its countdown are untouched.
type SetupError struct {
	Missing []string
	Err     error
}

func (e *SetupError) Error() string {
	if len(e.Missing) > 0 {
		return "payments: intent setup incomplete, missing " + strings.Join(e.Missing, ", ")
	}
	if e.Err != nil {
		return fmt.Sprintf("payments: intent setup failed: %v", e.Err)
	}
	return "payments: intent setup failed"
}

func (e *SetupError) Unwrap() error { return e.Err }

// FailedError means the processor declined or the confirmation ended in
// any status other than succeeded. The reservation and hold timer are
// left untouched so the user can retry within the remaining window.
type FailedError struct {
	Status  string
	Message string
	Err     error
}

func (e *FailedError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("payments: payment failed (%s): %s", e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("payments: payment failed: %v", e.Err)
	default:
		return fmt.Sprintf("payments: payment failed (%s)", e.Status)
	}
}

func (e *FailedError) Unwrap() error { return e.Err }
