package booking

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAlreadyRegistered is returned when a session attempts a second
	// patient registration; re-registration is not supported mid-session.
	ErrAlreadyRegistered = errors.New("booking: patient already registered for this session")

	// ErrPatientNotRegistered is returned when a reservation is attempted
	// before registration has produced PatientID and VisitID.
	ErrPatientNotRegistered = errors.New("booking: patient not registered")

	// ErrNoClinicSelected is returned when a reservation is attempted with
	// no treatment centre selected.
	ErrNoClinicSelected = errors.New("booking: no treatment centre selected")

	// ErrReservationInFlight guards against double-submission while a
	// reservation request is still awaiting its response.
	ErrReservationInFlight = errors.New("booking: reservation request already in flight")

	// ErrNoReservation is returned when payment is attempted with no held slot.
	ErrNoReservation = errors.New("booking: no reservation held")

	// ErrHoldExpired is returned when the hold window has run out; new
	// payment submissions are blocked once the countdown reaches zero.
	ErrHoldExpired = errors.New("booking: hold window has expired")

	// ErrAlreadyConfirmed is returned for operations on a finished booking.
	ErrAlreadyConfirmed = errors.New("booking: booking already confirmed")
)

// ValidationError carries field-level intake errors. It is raised before
// any network call is made.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "booking: invalid intake form"
	}
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return "booking: invalid intake form: " + strings.Join(names, ", ")
}

// RegistrationError wraps a failed or incomplete patient registration.
// The session stays in its prior state; the user may retry.
type RegistrationError struct {
	Reason string
	Err    error
}

func (e *RegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("booking: registration failed: %s: %v", e.Reason, e.Err)
	}
	return "booking: registration failed: " + e.Reason
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// ReservationError wraps a failed slot reservation. The session stays in
// its prior state; the user may retry or pick another slot.
type ReservationError struct {
	Reason string
	Err    error
}

func (e *ReservationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("booking: reservation failed: %s: %v", e.Reason, e.Err)
	}
	return "booking: reservation failed: " + e.Reason
}

func (e *ReservationError) Unwrap() error { return e.Err }
