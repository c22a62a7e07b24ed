// Package booking owns the slot-hold lifecycle for one patient session:
// registration, time-boxed reservation, expiry release and the hand-off
// points the payments coordinator drives.
package booking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oohdoc/booking-platform/internal/gateway"
	"github.com/oohdoc/booking-platform/internal/observability/metrics"
	"github.com/oohdoc/booking-platform/pkg/logging"
)

// WorkflowGateway is the registration/reservation surface the session
// consumes.
type WorkflowGateway interface {
	RegisterPatient(ctx context.Context, details gateway.PatientDetails) (*gateway.RegistrationResult, error)
	BookAppointment(ctx context.Context, req gateway.AppointmentRequest) (*gateway.AppointmentResult, error)
}

const defaultCaseType = "OOH_GP"

// Dependencies wires a Session to its collaborators.
type Dependencies struct {
	Gateway WorkflowGateway
	Release *ReleaseDispatcher
	Slots   *SlotCache
	Logger  *logging.Logger
	Metrics *metrics.BookingMetrics

	// HoldWindowSeconds defaults to 180.
	HoldWindowSeconds int
	// TickInterval overrides the 1-second tick; tests only.
	TickInterval time.Duration
}

// Session is one booking flow from intake to confirmation. The session
// is the sole writer of its reservation and hold timer.
type Session struct {
	ID        string
	CreatedAt time.Time

	deps   Dependencies
	logger *logging.Logger
	timer  *HoldTimer

	mu              sync.Mutex
	state           State
	patient         *PatientRecord
	reservation     *Reservation
	selectedCentre  int64
	selectedDate    string
	reserveInFlight bool
}

// NewSession creates a fresh booking session in StateNoReservation.
func NewSession(deps Dependencies) *Session {
	if deps.Gateway == nil {
		panic("booking: session requires a gateway")
	}
	if deps.Release == nil {
		panic("booking: session requires a release dispatcher")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.HoldWindowSeconds <= 0 {
		deps.HoldWindowSeconds = 180
	}

	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		deps:      deps,
		state:     StateNoReservation,
	}
	s.logger = deps.Logger.With("session_id", s.ID)

	timerOpts := []TimerOption{}
	if deps.TickInterval > 0 {
		timerOpts = append(timerOpts, WithTickInterval(deps.TickInterval))
	}
	s.timer = NewHoldTimer(deps.HoldWindowSeconds, s.handleExpiry, timerOpts...)
	return s
}

// State returns the session's lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Patient returns a copy of the registered patient, if any.
func (s *Session) Patient() (PatientRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patient == nil {
		return PatientRecord{}, false
	}
	return *s.patient, true
}

// Reservation returns a copy of the currently held reservation, if any.
func (s *Session) Reservation() (Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reservation == nil {
		return Reservation{}, false
	}
	return *s.reservation, true
}

// Hold returns the current countdown view.
func (s *Session) Hold() HoldSnapshot {
	return s.timer.Snapshot()
}

// SelectedClinic returns the currently selected treatment centre id, or 0.
func (s *Session) SelectedClinic() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedCentre
}

// RegisterPatient validates the intake form and registers the patient
// upstream. Validation failures surface field-level errors and make no
// network call. A successful registration requires both PatientID and
// VisitID in the normalized response; anything less fails whole.
func (s *Session) RegisterPatient(ctx context.Context, details gateway.PatientDetails) (*PatientRecord, error) {
	if err := ValidateIntake(details); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.patient != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyRegistered
	}
	s.mu.Unlock()

	result, err := s.deps.Gateway.RegisterPatient(ctx, details)
	if err != nil {
		return nil, &RegistrationError{Reason: "upstream call failed", Err: err}
	}
	if result.PatientID == 0 || result.VisitID == 0 {
		return nil, &RegistrationError{Reason: "response missing PatientID or VisitID"}
	}

	// Prefer the server-normalized phone echo over what the user typed.
	if echoed := strings.TrimSpace(result.MobileNo); echoed != "" {
		details.MobileNo = echoed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patient != nil {
		return nil, ErrAlreadyRegistered
	}
	s.patient = &PatientRecord{
		PatientID:    int64(result.PatientID),
		VisitID:      int64(result.VisitID),
		CaseNo:       result.CaseNo,
		Details:      details,
		RegisteredAt: time.Now(),
	}
	s.state = StatePatientRegistered
	s.logger.Info("patient registered",
		"patient_id", s.patient.PatientID,
		"visit_id", s.patient.VisitID,
	)
	record := *s.patient
	return &record, nil
}

// SelectClinic applies clinic toggle semantics: selecting the selected
// centre again deselects it and clears any held reservation; selecting a
// different centre resets the slot selection and lazily loads that
// centre's slot list. The returned bool reports whether a centre is
// selected afterwards.
func (s *Session) SelectClinic(ctx context.Context, trCentreID int64, date string) ([]gateway.Slot, bool, error) {
	s.mu.Lock()
	if s.state == StateConfirmed {
		s.mu.Unlock()
		return nil, false, ErrAlreadyConfirmed
	}

	if s.selectedCentre == trCentreID && trCentreID != 0 {
		s.selectedCentre = 0
		s.selectedDate = ""
		s.clearHoldLocked()
		s.mu.Unlock()
		s.logger.Info("clinic deselected", "tr_centre_id", trCentreID)
		return nil, false, nil
	}

	s.selectedCentre = trCentreID
	s.selectedDate = date
	s.clearHoldLocked()
	s.mu.Unlock()

	if s.deps.Slots == nil {
		return nil, true, nil
	}
	slots, err := s.deps.Slots.Get(ctx, trCentreID, date)
	if err != nil {
		return nil, true, fmt.Errorf("booking: load slots for centre %d: %w", trCentreID, err)
	}
	return slots, true, nil
}

// ReserveSlot places a provisional hold on the given slot for the
// selected date. A second call while one is in flight is rejected; a
// call that replaces an existing hold resets the countdown instead of
// starting a new one.
func (s *Session) ReserveSlot(ctx context.Context, slot gateway.Slot, date string) (*Reservation, error) {
	s.mu.Lock()
	if s.state == StateConfirmed {
		s.mu.Unlock()
		return nil, ErrAlreadyConfirmed
	}
	if s.patient == nil {
		s.mu.Unlock()
		return nil, ErrPatientNotRegistered
	}
	if s.selectedCentre == 0 {
		s.mu.Unlock()
		return nil, ErrNoClinicSelected
	}
	if s.reserveInFlight {
		s.mu.Unlock()
		return nil, ErrReservationInFlight
	}
	if date == "" {
		date = s.selectedDate
	}
	start, end, err := slotWindow(date, slot)
	if err != nil {
		s.mu.Unlock()
		return nil, &ReservationError{Reason: "invalid slot time", Err: err}
	}
	s.reserveInFlight = true
	centre := s.selectedCentre
	patient := *s.patient
	s.mu.Unlock()

	req := gateway.AppointmentRequest{
		PatientID:     patient.PatientID,
		VisitID:       patient.VisitID,
		CaseType:      defaultCaseType,
		TrCentreID:    centre,
		AppointmentID: 0,
		StartTime:     start.Format(WireTimeLayout),
		EndTime:       end.Format(WireTimeLayout),
		Status:        false,
	}
	result, err := s.deps.Gateway.BookAppointment(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserveInFlight = false
	if err != nil {
		return nil, &ReservationError{Reason: "upstream call failed", Err: err}
	}

	res := Reservation{
		TreatmentCentreID: centre,
		PatientID:         patient.PatientID,
		VisitID:           patient.VisitID,
		CaseType:          defaultCaseType,
		StartTime:         start,
		EndTime:           end,
		Status:            StatusReserved,
	}

	if result == nil {
		// Empty body: implicit success. The synthesized id is negative so
		// it can never be mistaken for a server-assigned one, and it is
		// excluded from release calls.
		res.AppointmentID = placeholderAppointmentID()
		res.Placeholder = true
		s.logger.Warn("empty reservation response, synthesized placeholder appointment id",
			"appointment_id", res.AppointmentID,
		)
	} else {
		mergeReservation(&res, result)
	}

	s.reservation = &res
	s.state = StateSlotHeld

	if s.timer.Start() {
		s.deps.Metrics.ObserveHoldStarted()
	} else {
		s.timer.Reset()
		s.deps.Metrics.ObserveHoldReset()
	}

	s.logger.Info("slot held",
		"tr_centre_id", res.TreatmentCentreID,
		"appointment_id", res.AppointmentID,
		"placeholder", res.Placeholder,
		"start", res.StartTime,
	)
	held := res
	return &held, nil
}

// mergeReservation overlays server-returned fields onto the locally
// computed reservation, preferring server values and keeping the local
// ones wherever the server omitted a field.
func mergeReservation(res *Reservation, result *gateway.AppointmentResult) {
	if result.AppointmentID != 0 {
		res.AppointmentID = int64(result.AppointmentID)
	}
	if result.TrCentreID != 0 {
		res.TreatmentCentreID = int64(result.TrCentreID)
	}
	if result.PatientID != 0 {
		res.PatientID = int64(result.PatientID)
	}
	if result.VisitID != 0 {
		res.VisitID = int64(result.VisitID)
	}
	if t, err := time.ParseInLocation(WireTimeLayout, result.StartTime, time.Local); err == nil {
		res.StartTime = t
	}
	if t, err := time.ParseInLocation(WireTimeLayout, result.EndTime, time.Local); err == nil {
		res.EndTime = t
	}
	if result.CaseNo != "" {
		res.CaseNumber = result.CaseNo
	}
}

// BeginPayment verifies there is a live hold to pay for and returns a
// copy of it. Once the countdown has reached zero, new submissions are
// rejected here.
func (s *Session) BeginPayment() (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConfirmed {
		return Reservation{}, ErrAlreadyConfirmed
	}
	if s.reservation == nil {
		return Reservation{}, ErrNoReservation
	}
	snap := s.timer.Snapshot()
	if !snap.Active {
		return Reservation{}, ErrHoldExpired
	}
	return *s.reservation, nil
}

// ExtendHold re-arms the countdown at the full window, e.g. when the
// user starts interacting with the card input.
func (s *Session) ExtendHold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reservation == nil || !s.timer.Snapshot().Active {
		return
	}
	s.timer.Reset()
	s.deps.Metrics.ObserveHoldReset()
}

// CompleteBooking installs the finalized reservation and stops the
// countdown for good. The caller passes its own copy of the reservation
// taken before confirmation, so a finalization that lands after expiry
// still wins: the booking ends Confirmed, never released.
func (s *Session) CompleteBooking(res Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res.Status = StatusConfirmed
	s.reservation = &res
	s.state = StateConfirmed
	s.timer.Stop()
	s.logger.Info("booking confirmed",
		"case_no", res.CaseNumber,
		"appointment_id", res.AppointmentID,
	)
}

// Reset tears the whole session down to a blank state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer.Stop()
	s.patient = nil
	s.reservation = nil
	s.selectedCentre = 0
	s.selectedDate = ""
	s.reserveInFlight = false
	s.state = StateNoReservation
	s.logger.Info("session reset")
}

// handleExpiry is the timer's expiry callback. It runs asynchronously
// and re-reads the session state at fire time; the generation check
// discards callbacks from a cycle that has since been replaced.
func (s *Session) handleExpiry(gen uint64) {
	s.mu.Lock()
	if s.timer.Generation() != gen {
		s.mu.Unlock()
		s.logger.Debug("stale hold expiry ignored", "generation", gen)
		return
	}
	if s.state == StateConfirmed {
		s.mu.Unlock()
		return
	}

	s.deps.Metrics.ObserveHoldExpired()

	var visitID, appointmentID int64
	releasable := false
	if res := s.reservation; res != nil && res.VisitID != 0 && res.AppointmentID != 0 && !res.Placeholder {
		visitID = res.VisitID
		appointmentID = res.AppointmentID
		releasable = true
	}

	s.clearHoldLocked()
	s.mu.Unlock()

	if releasable {
		s.logger.Info("hold expired, releasing slot",
			"visit_id", visitID,
			"appointment_id", appointmentID,
		)
		s.deps.Release.Dispatch(visitID, appointmentID)
		return
	}
	s.logger.Info("hold expired with nothing to release")
}

// clearHoldLocked drops the reservation and hides the countdown. The
// registered patient survives, so the user can pick a new slot without
// re-registering. Caller holds s.mu.
func (s *Session) clearHoldLocked() {
	s.timer.Stop()
	s.reservation = nil
	if s.state == StateSlotHeld {
		if s.patient != nil {
			s.state = StatePatientRegistered
		} else {
			s.state = StateNoReservation
		}
	}
}

// slotWindow combines the selected date with a slot's 24-hour display
// times. A window that crosses midnight rolls the end into the next day.
func slotWindow(date string, slot gateway.Slot) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, date, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	start, err := combineClock(day, slot.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time %q: %w", slot.StartTime, err)
	}
	end, err := combineClock(day, slot.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time %q: %w", slot.EndTime, err)
	}
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end, nil
}

func combineClock(day time.Time, clock string) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	layout := "15:04"
	if strings.Count(clock, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.ParseInLocation(layout, clock, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.Local), nil
}

// placeholderAppointmentID synthesizes a strictly negative id for
// reservations whose upstream response was empty.
func placeholderAppointmentID() int64 {
	return -(time.Now().UnixNano()%900_000_000 + 100_000_000)
}
