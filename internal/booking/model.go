package booking

import (
	"time"

	"github.com/oohdoc/booking-platform/internal/gateway"
)

// State is the reservation lifecycle position of a booking session.
type State string

const (
	StateNoReservation     State = "no_reservation"
	StatePatientRegistered State = "patient_registered"
	StateSlotHeld          State = "slot_held"
	StateConfirmed         State = "confirmed"
)

// ReservationStatus distinguishes a provisional hold from a paid booking.
// A released or expired reservation has no record at all.
type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"
	StatusConfirmed ReservationStatus = "confirmed"
)

// WireTimeLayout is the StartTime/EndTime format on gateway requests.
const WireTimeLayout = "2006-01-02 15:04:05"

// DateLayout is the selected-date format (and DOB format on intake).
const DateLayout = "2006-01-02"

// PatientRecord is the registered patient for one booking session,
// created at most once per session.
type PatientRecord struct {
	PatientID    int64
	VisitID      int64
	CaseNo       string
	Details      gateway.PatientDetails
	RegisteredAt time.Time
}

// Reservation is the currently held appointment slot. At most one exists
// per session at a time.
type Reservation struct {
	TreatmentCentreID int64
	AppointmentID     int64
	// Placeholder marks an AppointmentID synthesized locally because the
	// upstream returned an empty reservation body. Placeholder ids are
	// auditable (always negative) and are never sent on release calls.
	Placeholder bool
	PatientID   int64
	VisitID     int64
	CaseType    string
	StartTime   time.Time
	EndTime     time.Time
	Status      ReservationStatus
	CaseNumber  string
}

// HoldSnapshot is a point-in-time view of the hold countdown.
type HoldSnapshot struct {
	RemainingSeconds int    `json:"remainingSeconds"`
	Active           bool   `json:"active"`
	Visible          bool   `json:"visible"`
	Expired          bool   `json:"expired"`
	Generation       uint64 `json:"-"`
}
