package payments

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oohdoc/booking-platform/internal/booking"
	"github.com/oohdoc/booking-platform/internal/gateway"
	"github.com/oohdoc/booking-platform/internal/records"
)

// coordFakeGateway serves both the session and the coordinator.
type coordFakeGateway struct {
	mu             sync.Mutex
	intentResult   *gateway.PaymentIntentResult
	intentErr      error
	finalizeResult *gateway.AppointmentResult
	finalizeErr    error
	finalizeReqs   []gateway.AppointmentRequest
	summaries      []gateway.BookingSummary
}

func newCoordFakeGateway() *coordFakeGateway {
	return &coordFakeGateway{
		intentResult: &gateway.PaymentIntentResult{
			PaymentIntent: "pi_1_secret_2",
			EphemeralKey:  "ek_1",
			Customer:      "cus_1",
		},
		finalizeResult: &gateway.AppointmentResult{AppointmentID: 909, CaseNo: "OOH-55", Status: true},
	}
}

func (f *coordFakeGateway) RegisterPatient(context.Context, gateway.PatientDetails) (*gateway.RegistrationResult, error) {
	return &gateway.RegistrationResult{PatientID: 101, VisitID: 202}, nil
}

func (f *coordFakeGateway) BookAppointment(_ context.Context, req gateway.AppointmentRequest) (*gateway.AppointmentResult, error) {
	if !req.Status {
		// Provisional hold placed by the session.
		return &gateway.AppointmentResult{AppointmentID: 909, Status: true}, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizeReqs = append(f.finalizeReqs, req)
	return f.finalizeResult, f.finalizeErr
}

func (f *coordFakeGateway) ReleaseSlot(context.Context, int64, int64) (json.RawMessage, error) {
	return nil, nil
}

func (f *coordFakeGateway) CreatePaymentIntent(context.Context, int64, string, string) (*gateway.PaymentIntentResult, error) {
	return f.intentResult, f.intentErr
}

func (f *coordFakeGateway) SendConfirmationEmails(_ context.Context, summary gateway.BookingSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}

type fakeProcessor struct {
	methodID   string
	methodErr  error
	confirm    *IntentConfirmation
	confirmErr error
}

func (f *fakeProcessor) CreatePaymentMethod(context.Context, CardInput) (string, error) {
	return f.methodID, f.methodErr
}

func (f *fakeProcessor) ConfirmIntent(context.Context, string, string) (*IntentConfirmation, error) {
	return f.confirm, f.confirmErr
}

type fakeRecords struct {
	mu   sync.Mutex
	recs []records.BookingRecord
	err  error
}

func (f *fakeRecords) SaveConfirmed(_ context.Context, rec records.BookingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return f.err
}

func intakeDetails() gateway.PatientDetails {
	return gateway.PatientDetails{
		FirstName:    "Aoife",
		Surname:      "Byrne",
		DateOfBirth:  "1990-04-12",
		Gender:       "female",
		MobileNo:     "0851234567",
		Email:        "aoife@example.ie",
		Reason:       "high temperature",
		CurrAddress1: "14 Main Street, Tralee",
		HomeAddress1: "14 Main Street, Tralee",
	}
}

// heldSession builds a session with a registered patient and a live hold.
func heldSession(t *testing.T, gw *coordFakeGateway) *booking.Session {
	t.Helper()
	s := booking.NewSession(booking.Dependencies{
		Gateway:           gw,
		Release:           booking.NewReleaseDispatcher(gw, nil, nil),
		HoldWindowSeconds: 180,
	})
	_, err := s.RegisterPatient(context.Background(), intakeDetails())
	require.NoError(t, err)
	_, _, err = s.SelectClinic(context.Background(), 42, "2026-09-01")
	require.NoError(t, err)
	slot := gateway.Slot{SlotID: 7, StartTime: "18:00", EndTime: "18:15", Available: true}
	_, err = s.ReserveSlot(context.Background(), slot, "2026-09-01")
	require.NoError(t, err)
	return s
}

func newTestCoordinator(gw *coordFakeGateway, proc *fakeProcessor, recs *fakeRecords) *Coordinator {
	cfg := Config{
		Gateway:          gw,
		Processor:        proc,
		AmountMinorUnits: 7500,
		Currency:         "eur",
	}
	if recs != nil {
		cfg.Records = recs
	}
	return NewCoordinator(cfg)
}

func okProcessor() *fakeProcessor {
	return &fakeProcessor{
		methodID: "pm_1",
		confirm:  &IntentConfirmation{ID: "pi_1", Status: "succeeded", Amount: 7500},
	}
}

func TestInitiateRequiresLiveHold(t *testing.T) {
	gw := newCoordFakeGateway()
	c := newTestCoordinator(gw, okProcessor(), nil)
	s := booking.NewSession(booking.Dependencies{
		Gateway: gw,
		Release: booking.NewReleaseDispatcher(gw, nil, nil),
	})

	_, err := c.Initiate(context.Background(), s, "aoife@example.ie")
	assert.ErrorIs(t, err, booking.ErrNoReservation)
}

func TestInitiateExtendsHoldAndReturnsSetup(t *testing.T) {
	gw := newCoordFakeGateway()
	c := newTestCoordinator(gw, okProcessor(), nil)
	s := heldSession(t, gw)
	genBefore := s.Hold().Generation

	setup, err := c.Initiate(context.Background(), s, "aoife@example.ie")
	require.NoError(t, err)

	assert.Equal(t, "pi_1_secret_2", setup.ClientSecret)
	assert.Equal(t, "ek_1", setup.EphemeralKey)
	assert.Equal(t, "cus_1", setup.Customer)
	assert.Equal(t, int64(7500), setup.AmountMinorUnits)
	assert.Equal(t, "eur", setup.Currency)
	assert.Equal(t, genBefore+1, s.Hold().Generation, "starting the payment sheet extends the hold")
}

func TestInitiateMissingFieldsIsSetupError(t *testing.T) {
	gw := newCoordFakeGateway()
	gw.intentResult = &gateway.PaymentIntentResult{PaymentIntent: "pi_1_secret_2"}
	c := newTestCoordinator(gw, okProcessor(), nil)
	s := heldSession(t, gw)

	_, err := c.Initiate(context.Background(), s, "aoife@example.ie")
	var serr *SetupError
	require.ErrorAs(t, err, &serr)
	assert.ElementsMatch(t, []string{"ephemeralKey", "customer"}, serr.Missing)
	assert.Equal(t, booking.StateSlotHeld, s.State(), "setup failure leaves the hold untouched")
}

func TestConfirmSuccessFinalizesBooking(t *testing.T) {
	gw := newCoordFakeGateway()
	recs := &fakeRecords{}
	c := newTestCoordinator(gw, okProcessor(), recs)
	s := heldSession(t, gw)

	res, err := c.Confirm(context.Background(), s, CardInput{Number: "4242424242424242"}, "pi_1_secret_2")
	require.NoError(t, err)
	c.Flush()

	assert.Equal(t, booking.StateConfirmed, s.State())
	assert.Equal(t, booking.StatusConfirmed, res.Status)
	assert.Equal(t, "OOH-55", res.CaseNumber, "case number from finalization is merged")
	assert.False(t, s.Hold().Active, "confirmation stops the countdown")

	gw.mu.Lock()
	require.Len(t, gw.finalizeReqs, 1)
	finalize := gw.finalizeReqs[0]
	assert.True(t, finalize.Status, "finalization must send Status true")
	assert.Equal(t, int64(909), finalize.AppointmentID)

	require.Len(t, gw.summaries, 1)
	summary := gw.summaries[0]
	gw.mu.Unlock()
	assert.Equal(t, "Aoife Byrne", summary.PatientName)
	assert.Equal(t, "OOH-55", summary.CaseNo)

	recs.mu.Lock()
	defer recs.mu.Unlock()
	require.Len(t, recs.recs, 1)
	assert.Equal(t, "OOH-55", recs.recs[0].CaseNo)
	assert.Equal(t, int64(7500), recs.recs[0].AmountMinorUnits)
	assert.Equal(t, "eur", recs.recs[0].Currency)
}

func TestConfirmDeclinedLeavesHold(t *testing.T) {
	gw := newCoordFakeGateway()
	proc := &fakeProcessor{
		methodID:   "pm_1",
		confirmErr: &FailedError{Status: "card_declined", Message: "Your card was declined."},
	}
	c := newTestCoordinator(gw, proc, nil)
	s := heldSession(t, gw)

	_, err := c.Confirm(context.Background(), s, CardInput{}, "pi_1_secret_2")
	var ferr *FailedError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "card_declined", ferr.Status)

	assert.Equal(t, booking.StateSlotHeld, s.State(), "declined payment keeps the hold")
	assert.True(t, s.Hold().Active, "countdown keeps running for a retry")
	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Empty(t, gw.finalizeReqs, "no finalization on failure")
}

func TestConfirmNonSucceededStatusFails(t *testing.T) {
	gw := newCoordFakeGateway()
	proc := &fakeProcessor{
		methodID: "pm_1",
		confirm:  &IntentConfirmation{ID: "pi_1", Status: "requires_action"},
	}
	c := newTestCoordinator(gw, proc, nil)
	s := heldSession(t, gw)

	_, err := c.Confirm(context.Background(), s, CardInput{}, "pi_1_secret_2")
	var ferr *FailedError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "requires_action", ferr.Status)
	assert.Equal(t, booking.StateSlotHeld, s.State())
}

func TestConfirmTransportErrorWrapsAsFailed(t *testing.T) {
	gw := newCoordFakeGateway()
	proc := &fakeProcessor{methodErr: errors.New("connection reset")}
	c := newTestCoordinator(gw, proc, nil)
	s := heldSession(t, gw)

	_, err := c.Confirm(context.Background(), s, CardInput{}, "pi_1_secret_2")
	var ferr *FailedError
	require.ErrorAs(t, err, &ferr)
}

func TestFinalizationFailureStillConfirmsLocally(t *testing.T) {
	gw := newCoordFakeGateway()
	gw.finalizeErr = errors.New("gateway down")
	gw.finalizeResult = nil
	c := newTestCoordinator(gw, okProcessor(), nil)
	s := heldSession(t, gw)

	res, err := c.Confirm(context.Background(), s, CardInput{}, "pi_1_secret_2")
	require.NoError(t, err, "the card was charged; the booking must not fail")
	c.Flush()

	assert.Equal(t, booking.StateConfirmed, s.State())
	assert.Equal(t, booking.StatusConfirmed, res.Status)
}

func TestConfirmAfterExpiryIsRejected(t *testing.T) {
	gw := newCoordFakeGateway()
	c := newTestCoordinator(gw, okProcessor(), nil)
	s := booking.NewSession(booking.Dependencies{
		Gateway: gw,
		Release: booking.NewReleaseDispatcher(gw, nil, nil),
	})

	_, err := c.Confirm(context.Background(), s, CardInput{}, "pi_1_secret_2")
	assert.ErrorIs(t, err, booking.ErrNoReservation)
}
