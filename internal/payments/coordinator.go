// Package payments drives payment-intent creation, processor
// confirmation and post-success finalization of a held booking.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oohdoc/booking-platform/internal/booking"
	"github.com/oohdoc/booking-platform/internal/gateway"
	"github.com/oohdoc/booking-platform/internal/observability/metrics"
	"github.com/oohdoc/booking-platform/internal/records"
	"github.com/oohdoc/booking-platform/pkg/logging"
)

var paymentsTracer = otel.Tracer("oohdoc.internal.payments")

const statusSucceeded = "succeeded"

// workflowGateway is the payment/finalization surface of the gateway.
type workflowGateway interface {
	CreatePaymentIntent(ctx context.Context, amountMinorUnits int64, currency, email string) (*gateway.PaymentIntentResult, error)
	BookAppointment(ctx context.Context, req gateway.AppointmentRequest) (*gateway.AppointmentResult, error)
	SendConfirmationEmails(ctx context.Context, summary gateway.BookingSummary) error
}

// cardProcessor is the card-processor surface the coordinator consumes.
type cardProcessor interface {
	CreatePaymentMethod(ctx context.Context, card CardInput) (string, error)
	ConfirmIntent(ctx context.Context, clientSecret, paymentMethodID string) (*IntentConfirmation, error)
}

// recordsWriter persists confirmed bookings.
type recordsWriter interface {
	SaveConfirmed(ctx context.Context, rec records.BookingRecord) error
}

// Coordinator orchestrates one payment attempt against a held slot. It
// never starts the hold timer; it only extends it when card interaction
// begins and stops it through CompleteBooking on success.
type Coordinator struct {
	gateway          workflowGateway
	processor        cardProcessor
	records          recordsWriter
	logger           *logging.Logger
	metrics          *metrics.BookingMetrics
	amountMinorUnits int64
	currency         string

	background sync.WaitGroup
}

// Config wires a Coordinator.
type Config struct {
	Gateway          workflowGateway
	Processor        cardProcessor
	Records          recordsWriter // optional
	Logger           *logging.Logger
	Metrics          *metrics.BookingMetrics
	AmountMinorUnits int64
	Currency         string
}

// NewCoordinator constructs a payment coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Gateway == nil {
		panic("payments: coordinator requires a gateway")
	}
	if cfg.Processor == nil {
		panic("payments: coordinator requires a processor")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Coordinator{
		gateway:          cfg.Gateway,
		processor:        cfg.Processor,
		records:          cfg.Records,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		amountMinorUnits: cfg.AmountMinorUnits,
		currency:         cfg.Currency,
	}
}

// IntentSetup is everything the payment sheet needs to collect a card.
type IntentSetup struct {
	ClientSecret     string `json:"clientSecret"`
	EphemeralKey     string `json:"ephemeralKey"`
	Customer         string `json:"customer"`
	PublishableKey   string `json:"publishableKey,omitempty"`
	AmountMinorUnits int64  `json:"amountMinorUnits"`
	Currency         string `json:"currency"`
}

// Initiate creates a payment intent for the session's held slot. The
// response must carry client secret, ephemeral key and customer
// reference; missing any is a SetupError. A live hold is required, and
// starting the payment sheet counts as card interaction, so the hold is
// extended to the full window.
func (c *Coordinator) Initiate(ctx context.Context, session *booking.Session, email string) (*IntentSetup, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.initiate")
	defer span.End()

	if _, err := session.BeginPayment(); err != nil {
		return nil, err
	}
	session.ExtendHold()

	result, err := c.gateway.CreatePaymentIntent(ctx, c.amountMinorUnits, c.currency, email)
	if err != nil {
		span.RecordError(err)
		c.metrics.ObservePayment("setup_error")
		return nil, &SetupError{Err: err}
	}

	var missing []string
	if result.PaymentIntent == "" {
		missing = append(missing, "paymentIntent")
	}
	if result.EphemeralKey == "" {
		missing = append(missing, "ephemeralKey")
	}
	if result.Customer == "" {
		missing = append(missing, "customer")
	}
	if len(missing) > 0 {
		c.metrics.ObservePayment("setup_error")
		return nil, &SetupError{Missing: missing}
	}

	c.metrics.ObservePayment("initiated")
	return &IntentSetup{
		ClientSecret:     result.PaymentIntent,
		EphemeralKey:     result.EphemeralKey,
		Customer:         result.Customer,
		PublishableKey:   result.PublishableKey,
		AmountMinorUnits: c.amountMinorUnits,
		Currency:         c.currency,
	}, nil
}

// Confirm charges the card and, on success, finalizes the booking. Any
// processor outcome other than succeeded is a FailedError and leaves the
// reservation and hold timer untouched. The reservation snapshot is
// taken before confirmation, so a confirmation that lands after the
// countdown reaches zero is still honored: the booking ends Confirmed.
func (c *Coordinator) Confirm(ctx context.Context, session *booking.Session, card CardInput, clientSecret string) (*booking.Reservation, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.confirm")
	defer span.End()

	res, err := session.BeginPayment()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("booking.appointment_id", res.AppointmentID))

	paymentMethodID, err := c.processor.CreatePaymentMethod(ctx, card)
	if err != nil {
		span.RecordError(err)
		c.metrics.ObservePayment("failed")
		return nil, asFailedError(err)
	}

	confirmation, err := c.processor.ConfirmIntent(ctx, clientSecret, paymentMethodID)
	if err != nil {
		span.RecordError(err)
		c.metrics.ObservePayment("failed")
		return nil, asFailedError(err)
	}
	if confirmation.Status != statusSucceeded {
		c.metrics.ObservePayment("failed")
		return nil, &FailedError{Status: confirmation.Status}
	}

	c.metrics.ObservePayment("succeeded")
	c.logger.Info("payment captured",
		"intent_id", confirmation.ID,
		"appointment_id", res.AppointmentID,
	)

	c.finalize(ctx, session, &res)
	return &res, nil
}

// finalize sends the Status=true confirmation, merges the case number,
// installs the confirmed reservation and kicks off the fire-and-forget
// follow-ups. The payment has already been captured, so nothing in here
// may undo the booking: a failed finalization call is logged and the
// booking is still completed locally.
func (c *Coordinator) finalize(ctx context.Context, session *booking.Session, res *booking.Reservation) {
	req := gateway.AppointmentRequest{
		PatientID:     res.PatientID,
		VisitID:       res.VisitID,
		CaseType:      res.CaseType,
		TrCentreID:    res.TreatmentCentreID,
		AppointmentID: res.AppointmentID,
		StartTime:     res.StartTime.Format(booking.WireTimeLayout),
		EndTime:       res.EndTime.Format(booking.WireTimeLayout),
		Status:        true,
	}

	result, err := c.gateway.BookAppointment(ctx, req)
	switch {
	case err != nil:
		c.logger.Error("payment captured but booking finalization call failed",
			"appointment_id", res.AppointmentID,
			"error", err,
		)
	case result == nil:
		// Empty body: implicit success, no case number to merge.
		c.logger.Warn("empty finalization response", "appointment_id", res.AppointmentID)
	default:
		if result.CaseNo != "" {
			res.CaseNumber = result.CaseNo
		}
		if result.AppointmentID != 0 {
			res.AppointmentID = int64(result.AppointmentID)
		}
	}

	res.Status = booking.StatusConfirmed
	session.CompleteBooking(*res)

	patient, hasPatient := session.Patient()

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		c.dispatchNotification(patient, hasPatient, *res)
	}()

	if c.records != nil {
		rec := records.BookingRecord{
			CaseNo:           res.CaseNumber,
			PatientID:        res.PatientID,
			VisitID:          res.VisitID,
			TrCentreID:       res.TreatmentCentreID,
			AppointmentID:    res.AppointmentID,
			StartTime:        res.StartTime,
			EndTime:          res.EndTime,
			AmountMinorUnits: c.amountMinorUnits,
			Currency:         c.currency,
		}
		c.background.Add(1)
		go func() {
			defer c.background.Done()
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.records.SaveConfirmed(saveCtx, rec); err != nil {
				c.logger.Error("booking record write failed", "case_no", rec.CaseNo, "error", err)
			}
		}()
	}
}

// dispatchNotification sends the booking confirmation emails. A failure
// here must not fail or roll back the already-successful booking.
func (c *Coordinator) dispatchNotification(patient booking.PatientRecord, hasPatient bool, res booking.Reservation) {
	summary := gateway.BookingSummary{
		CentreName: strconv.FormatInt(res.TreatmentCentreID, 10),
		CaseNo:     res.CaseNumber,
		StartTime:  res.StartTime.Format(booking.WireTimeLayout),
		EndTime:    res.EndTime.Format(booking.WireTimeLayout),
	}
	if hasPatient {
		summary.PatientName = fmt.Sprintf("%s %s", patient.Details.FirstName, patient.Details.Surname)
		summary.Email = patient.Details.Email
		summary.MobileNo = patient.Details.MobileNo
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.gateway.SendConfirmationEmails(ctx, summary); err != nil {
		c.logger.Warn("confirmation notification dispatch failed",
			"case_no", res.CaseNumber,
			"error", err,
		)
	}
}

// Flush waits for background follow-ups; called on shutdown and in tests.
func (c *Coordinator) Flush() {
	c.background.Wait()
}

// asFailedError keeps processor-declared failures intact and wraps
// transport errors as payment failures.
func asFailedError(err error) error {
	var failed *FailedError
	if errors.As(err, &failed) {
		return err
	}
	return &FailedError{Err: err}
}
