package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oohdoc/booking-platform/internal/booking"
	"github.com/oohdoc/booking-platform/internal/gateway"
	"github.com/oohdoc/booking-platform/internal/http/handlers"
	"github.com/oohdoc/booking-platform/internal/payments"
)

const testJWTSecret = "router-test-secret"

// fakeWorkflowServer scripts the upstream automation service for the
// whole booking flow, mangled serializations included.
func fakeWorkflowServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch body["workflowtype"] {
		case "save_patient_details":
			fmt.Fprint(w, `{"PatientID": "101", "VisitID": 202, "CaseNo": "OOH-1"}`)
		case "appointment_slots":
			if body["type"] == "release_slot" {
				w.WriteHeader(http.StatusOK)
				return
			}
			fmt.Fprint(w, `[{"data": "{\"Slots\": [{\"SlotID\": 7, \"StartTime\": \"18:00\", \"EndTime\": \"18:15\", \"Available\": 1}]}"}]`)
		case "book_appointment":
			if status, _ := body["Status"].(bool); !status {
				// Provisional hold: enveloped, stringly typed.
				fmt.Fprint(w, `[{"data": "{\"AppointmentID\": \"909\", \"Status\": \"true\"}"}]`)
				return
			}
			fmt.Fprint(w, `{"AppointmentID": 909, "CaseNo": "OOH-55", "Status": true}`)
		case "stripe":
			fmt.Fprint(w, `{"paymentIntent": "pi_1_secret_2", "ephemeralKey": "ek_1", "customer": "cus_1"}`)
		case "send_confirmation_emails":
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected workflowtype %v", body["workflowtype"])
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
}

func fakeProcessorServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payment_methods", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "pm_1"}`)
	})
	mux.HandleFunc("/v1/payment_intents/pi_1/confirm", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "pi_1", "status": "succeeded", "amount": 7500}`)
	})
	return httptest.NewServer(mux)
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	workflow := fakeWorkflowServer(t)
	t.Cleanup(workflow.Close)
	processor := fakeProcessorServer()
	t.Cleanup(processor.Close)

	gatewayClient := gateway.NewClient(workflow.URL, "test-key", nil)
	registry := booking.NewRegistry(booking.Dependencies{
		Gateway:           gatewayClient,
		Release:           booking.NewReleaseDispatcher(gatewayClient, nil, nil),
		Slots:             booking.NewSlotCache(nil, gatewayClient, nil),
		HoldWindowSeconds: 180,
	})
	coordinator := payments.NewCoordinator(payments.Config{
		Gateway:          gatewayClient,
		Processor:        payments.NewProcessorClient(processor.URL, "sk_test", nil),
		AmountMinorUnits: 7500,
		Currency:         "eur",
	})

	bookingHandler := handlers.NewBookingHandler(registry, coordinator,
		booking.NewSlotCache(nil, gatewayClient, nil), testJWTSecret, time.Hour, nil)

	return New(&Config{
		Registry:         registry,
		BookingHandler:   bookingHandler,
		CountdownHandler: handlers.NewCountdownHandler(nil),
		SessionJWTSecret: testJWTSecret,
	})
}

type sessionClient struct {
	t      *testing.T
	router http.Handler
	token  string
}

func (c *sessionClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func (c *sessionClient) decode(rec *httptest.ResponseRecorder) map[string]any {
	c.t.Helper()
	var out map[string]any
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func intakeBody() map[string]any {
	return map[string]any{
		"FirstName":    "Aoife",
		"Surname":      "Byrne",
		"DOB":          "1990-04-12",
		"Gender":       "female",
		"MobileNo":     "0851234567",
		"Email":        "aoife@example.ie",
		"Reason":       "high temperature",
		"CurrAddress1": "14 Main Street, Tralee",
		"HomeAddress1": "14 Main Street, Tralee",
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionEndpointsRequireAuth(t *testing.T) {
	router := newTestRouter(t)
	c := &sessionClient{t: t, router: router}

	for _, probe := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/sessions/patient"},
		{http.MethodPost, "/api/v1/sessions/clinic"},
		{http.MethodGet, "/api/v1/sessions/hold"},
		{http.MethodPost, "/api/v1/sessions/reserve"},
		{http.MethodPost, "/api/v1/sessions/payment/intent"},
		{http.MethodDelete, "/api/v1/sessions/"},
	} {
		rec := c.do(probe.method, probe.path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", probe.method, probe.path)
	}
}

func TestFullBookingFlow(t *testing.T) {
	router := newTestRouter(t)
	c := &sessionClient{t: t, router: router}

	// Create session.
	rec := c.do(http.MethodPost, "/api/v1/sessions/", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := c.decode(rec)
	c.token = created["token"].(string)
	require.NotEmpty(t, c.token)
	assert.Equal(t, "no_reservation", created["state"])

	// Register patient.
	rec = c.do(http.MethodPost, "/api/v1/sessions/patient", intakeBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	registered := c.decode(rec)
	assert.Equal(t, float64(101), registered["patientId"])
	assert.Equal(t, "patient_registered", registered["state"])

	// Select clinic, slots come back through the mangled upstream payload.
	rec = c.do(http.MethodPost, "/api/v1/sessions/clinic", map[string]any{
		"trCentreId": 42,
		"date":       "2026-09-01",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	clinic := c.decode(rec)
	assert.Equal(t, true, clinic["selected"])
	require.Len(t, clinic["slots"], 1)

	// Reserve the slot.
	rec = c.do(http.MethodPost, "/api/v1/sessions/reserve", map[string]any{
		"slotId":    7,
		"startTime": "18:00",
		"endTime":   "18:15",
		"date":      "2026-09-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reserved := c.decode(rec)
	reservation := reserved["reservation"].(map[string]any)
	assert.Equal(t, float64(909), reservation["appointmentId"])
	assert.Equal(t, "slot_held", reserved["state"])
	hold := reserved["hold"].(map[string]any)
	assert.Equal(t, true, hold["active"])
	assert.Equal(t, float64(180), hold["remainingSeconds"])

	// Hold snapshot endpoint.
	rec = c.do(http.MethodGet, "/api/v1/sessions/hold", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Payment intent.
	rec = c.do(http.MethodPost, "/api/v1/sessions/payment/intent", map[string]any{
		"email": "aoife@example.ie",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	setup := c.decode(rec)
	assert.Equal(t, "pi_1_secret_2", setup["clientSecret"])

	// Confirm payment.
	rec = c.do(http.MethodPost, "/api/v1/sessions/payment/confirm", map[string]any{
		"clientSecret": "pi_1_secret_2",
		"card": map[string]any{
			"number":   "4242 4242 4242 4242",
			"expMonth": "11",
			"expYear":  "2030",
			"cvc":      "123",
			"name":     "Aoife Byrne",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := c.decode(rec)
	assert.Equal(t, "confirmed", confirmed["state"])
	finalRes := confirmed["reservation"].(map[string]any)
	assert.Equal(t, "confirmed", finalRes["status"])
	assert.Equal(t, "OOH-55", finalRes["caseNo"])

	// A second confirmation attempt is rejected.
	rec = c.do(http.MethodPost, "/api/v1/sessions/payment/confirm", map[string]any{
		"clientSecret": "pi_1_secret_2",
		"card":         map[string]any{"number": "4242424242424242"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterPatientValidationSurfacesFields(t *testing.T) {
	router := newTestRouter(t)
	c := &sessionClient{t: t, router: router}

	rec := c.do(http.MethodPost, "/api/v1/sessions/", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	c.token = c.decode(rec)["token"].(string)

	body := intakeBody()
	body["MobileNo"] = "12345"
	delete(body, "Reason")

	rec = c.do(http.MethodPost, "/api/v1/sessions/patient", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	fields := c.decode(rec)["fields"].(map[string]any)
	assert.Contains(t, fields, "mobileNo")
	assert.Contains(t, fields, "reason")
}

func TestDeleteSessionInvalidatesToken(t *testing.T) {
	router := newTestRouter(t)
	c := &sessionClient{t: t, router: router}

	rec := c.do(http.MethodPost, "/api/v1/sessions/", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	c.token = c.decode(rec)["token"].(string)

	rec = c.do(http.MethodDelete, "/api/v1/sessions/", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = c.do(http.MethodGet, "/api/v1/sessions/hold", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "removed session no longer resolves")
}
