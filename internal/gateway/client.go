// Package gateway talks to the upstream workflow-automation service that
// brokers patient registration, slot reservation, payment-intent creation
// and notification dispatch. Its responses arrive in several shapes and
// are normalized before any field is read.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oohdoc/booking-platform/internal/observability/metrics"
	"github.com/oohdoc/booking-platform/pkg/logging"
)

var gatewayTracer = otel.Tracer("oohdoc.internal.gateway")

// Workflow types understood by the automation service.
const (
	WorkflowSavePatient      = "save_patient_details"
	WorkflowBookAppointment  = "book_appointment"
	WorkflowAppointmentSlots = "appointment_slots"
	WorkflowStripe           = "stripe"
	WorkflowSendConfirmation = "send_confirmation_emails"
)

const defaultTimeout = 10 * time.Second

// Client is the workflow gateway client. All calls share the same
// endpoint, auth envelope and fixed request timeout; a timeout is
// indistinguishable from a network failure to callers.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.GatewayMetrics
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the fixed request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithMetrics attaches gateway request metrics.
func WithMetrics(m *metrics.GatewayMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a workflow gateway client.
func NewClient(baseURL, apiKey string, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// invoke posts one workflow request and returns the raw response body,
// which may be empty. The workflowtype is injected into the payload.
func (c *Client) invoke(ctx context.Context, workflowtype string, payload map[string]any) ([]byte, error) {
	ctx, span := gatewayTracer.Start(ctx, "gateway.invoke")
	defer span.End()
	span.SetAttributes(attribute.String("gateway.workflowtype", workflowtype))

	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["workflowtype"] = workflowtype

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode %s request: %w", workflowtype, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("gateway: build %s request: %w", workflowtype, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveLatency(workflowtype, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		c.metrics.ObserveRequest(workflowtype, "error")
		return nil, fmt.Errorf("gateway: %s request: %w", workflowtype, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		c.metrics.ObserveRequest(workflowtype, "error")
		return nil, fmt.Errorf("gateway: read %s response: %w", workflowtype, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		c.metrics.ObserveRequest(workflowtype, fmt.Sprintf("%d", resp.StatusCode))
		return nil, fmt.Errorf("gateway: %s status %d: %s", workflowtype, resp.StatusCode, string(raw))
	}

	c.metrics.ObserveRequest(workflowtype, "ok")
	return raw, nil
}

// toPayload flattens a struct into the map the envelope builder expects.
func toPayload(v any) (map[string]any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(encoded, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterPatient submits the intake form. A zero PatientID tells the
// upstream to create a new record. Field validation (both PatientID and
// VisitID present) is the caller's job.
func (c *Client) RegisterPatient(ctx context.Context, details PatientDetails) (*RegistrationResult, error) {
	payload, err := toPayload(details)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode patient details: %w", err)
	}
	payload["PatientID"] = 0

	raw, err := c.invoke(ctx, WorkflowSavePatient, payload)
	if err != nil {
		return nil, err
	}

	canonical, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	var result RegistrationResult
	if err := json.Unmarshal(canonical, &result); err != nil {
		return nil, fmt.Errorf("%w: registration decode: %v", ErrMalformedResponse, err)
	}
	return &result, nil
}

// BookAppointment sends a book_appointment request: a provisional hold
// when req.Status is false, the final confirmation when true. An empty
// response body is an implicit success and returns (nil, nil); the caller
// decides what to synthesize.
func (c *Client) BookAppointment(ctx context.Context, req AppointmentRequest) (*AppointmentResult, error) {
	payload, err := toPayload(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode appointment request: %w", err)
	}

	raw, err := c.invoke(ctx, WorkflowBookAppointment, payload)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	canonical, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	var result AppointmentResult
	if err := json.Unmarshal(canonical, &result); err != nil {
		return nil, fmt.Errorf("%w: appointment decode: %v", ErrMalformedResponse, err)
	}
	return &result, nil
}

// ReleaseSlot frees a held slot. The response payload is returned for
// logging only; callers must never let it block or fail the user flow.
func (c *Client) ReleaseSlot(ctx context.Context, visitID, appointmentID int64) (json.RawMessage, error) {
	raw, err := c.invoke(ctx, WorkflowAppointmentSlots, map[string]any{
		"type":          "release_slot",
		"visitID":       visitID,
		"appointmentID": appointmentID,
	})
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	canonical, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	return canonical, nil
}

// ClinicSlots fetches the bookable slots for one treatment centre on the
// given date (YYYY-MM-DD).
func (c *Client) ClinicSlots(ctx context.Context, trCentreID int64, date string) ([]Slot, error) {
	raw, err := c.invoke(ctx, WorkflowAppointmentSlots, map[string]any{
		"type":       "get_slots",
		"TrCentreID": trCentreID,
		"Date":       date,
	})
	if err != nil {
		return nil, err
	}

	canonical, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	var list slotList
	if err := json.Unmarshal(canonical, &list); err != nil {
		return nil, fmt.Errorf("%w: slot list decode: %v", ErrMalformedResponse, err)
	}
	return list.Slots, nil
}

// CreatePaymentIntent asks the gateway's payment workflow for the
// references the payment sheet needs. Presence of all three is enforced
// by the payments coordinator, not here.
func (c *Client) CreatePaymentIntent(ctx context.Context, amountMinorUnits int64, currency, email string) (*PaymentIntentResult, error) {
	raw, err := c.invoke(ctx, WorkflowStripe, map[string]any{
		"type":               "create_payment_intent",
		"amount_minor_units": amountMinorUnits,
		"currency":           currency,
		"email":              email,
	})
	if err != nil {
		return nil, err
	}

	canonical, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	var result PaymentIntentResult
	if err := json.Unmarshal(canonical, &result); err != nil {
		return nil, fmt.Errorf("%w: payment intent decode: %v", ErrMalformedResponse, err)
	}
	return &result, nil
}

// SendConfirmationEmails dispatches the booking confirmation
// notification. Fire-and-forget at the call sites; the error is for
// logging only.
func (c *Client) SendConfirmationEmails(ctx context.Context, summary BookingSummary) error {
	payload, err := toPayload(summary)
	if err != nil {
		return fmt.Errorf("gateway: encode booking summary: %w", err)
	}
	_, err = c.invoke(ctx, WorkflowSendConfirmation, payload)
	return err
}
