// Package handlers exposes the booking flow over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/oohdoc/booking-platform/internal/booking"
	"github.com/oohdoc/booking-platform/internal/gateway"
	"github.com/oohdoc/booking-platform/internal/http/middleware"
	"github.com/oohdoc/booking-platform/internal/payments"
	"github.com/oohdoc/booking-platform/pkg/logging"
)

// BookingHandler serves the session lifecycle endpoints.
type BookingHandler struct {
	registry    *booking.Registry
	coordinator *payments.Coordinator
	slots       *booking.SlotCache
	tokenSecret string
	tokenTTL    time.Duration
	logger      *logging.Logger
}

// NewBookingHandler creates the booking flow handler.
func NewBookingHandler(registry *booking.Registry, coordinator *payments.Coordinator, slots *booking.SlotCache, tokenSecret string, tokenTTL time.Duration, logger *logging.Logger) *BookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{
		registry:    registry,
		coordinator: coordinator,
		slots:       slots,
		tokenSecret: tokenSecret,
		tokenTTL:    tokenTTL,
		logger:      logger,
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// CreateSession handles POST /api/v1/sessions.
func (h *BookingHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	session := h.registry.Create()
	token, err := middleware.IssueSessionToken(h.tokenSecret, session.ID, h.tokenTTL)
	if err != nil {
		h.logger.Error("failed to issue session token", "error", err)
		h.registry.Remove(session.ID)
		writeError(w, http.StatusInternalServerError, "could not start booking session")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId": session.ID,
		"token":     token,
		"state":     session.State(),
	})
}

// DeleteSession handles DELETE /api/v1/sessions, a full session reset.
func (h *BookingHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}
	h.registry.Remove(session.ID)
	w.WriteHeader(http.StatusNoContent)
}

// RegisterPatient handles POST /api/v1/sessions/patient.
func (h *BookingHandler) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var details gateway.PatientDetails
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := session.RegisterPatient(r.Context(), details)
	if err != nil {
		var validation *booking.ValidationError
		switch {
		case errors.As(err, &validation):
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error:  "intake validation failed",
				Fields: validation.Fields,
			})
		case errors.Is(err, booking.ErrAlreadyRegistered):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("patient registration failed", "session_id", session.ID, "error", err)
			writeError(w, http.StatusBadGateway, "registration failed, please try again")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"patientId": record.PatientID,
		"visitId":   record.VisitID,
		"caseNo":    record.CaseNo,
		"state":     session.State(),
	})
}

type selectClinicRequest struct {
	TrCentreID int64  `json:"trCentreId"`
	Date       string `json:"date"`
}

// SelectClinic handles POST /api/v1/sessions/clinic.
func (h *BookingHandler) SelectClinic(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var req selectClinicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrCentreID == 0 {
		writeError(w, http.StatusBadRequest, "trCentreId is required")
		return
	}

	slots, selected, err := session.SelectClinic(r.Context(), req.TrCentreID, req.Date)
	if err != nil {
		if errors.Is(err, booking.ErrAlreadyConfirmed) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("clinic selection failed", "session_id", session.ID, "error", err)
		writeError(w, http.StatusBadGateway, "could not load clinic slots")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"selected": selected,
		"slots":    slots,
		"state":    session.State(),
	})
}

// ListSlots handles GET /api/v1/sessions/slots?clinic=&date=.
func (h *BookingHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.SessionFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	clinicID, err := strconv.ParseInt(r.URL.Query().Get("clinic"), 10, 64)
	if err != nil || clinicID == 0 {
		writeError(w, http.StatusBadRequest, "clinic query parameter is required")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format(booking.DateLayout)
	}

	slots, err := h.slots.Get(r.Context(), clinicID, date)
	if err != nil {
		h.logger.Error("slot lookup failed", "clinic", clinicID, "error", err)
		writeError(w, http.StatusBadGateway, "could not load clinic slots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

type reserveSlotRequest struct {
	SlotID    int64  `json:"slotId"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Date      string `json:"date"`
}

type reservationResponse struct {
	TrCentreID    int64  `json:"trCentreId"`
	AppointmentID int64  `json:"appointmentId"`
	Placeholder   bool   `json:"placeholder"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	Status        string `json:"status"`
	CaseNo        string `json:"caseNo,omitempty"`
}

func toReservationResponse(res booking.Reservation) reservationResponse {
	return reservationResponse{
		TrCentreID:    res.TreatmentCentreID,
		AppointmentID: res.AppointmentID,
		Placeholder:   res.Placeholder,
		StartTime:     res.StartTime.Format(time.RFC3339),
		EndTime:       res.EndTime.Format(time.RFC3339),
		Status:        string(res.Status),
		CaseNo:        res.CaseNumber,
	}
}

// ReserveSlot handles POST /api/v1/sessions/reserve.
func (h *BookingHandler) ReserveSlot(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var req reserveSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	slot := gateway.Slot{
		SlotID:    gateway.FlexInt64(req.SlotID),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
	res, err := session.ReserveSlot(r.Context(), slot, req.Date)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrReservationInFlight):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, booking.ErrPatientNotRegistered),
			errors.Is(err, booking.ErrNoClinicSelected),
			errors.Is(err, booking.ErrAlreadyConfirmed):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("slot reservation failed", "session_id", session.ID, "error", err)
			writeError(w, http.StatusBadGateway, "slot reservation failed, please try again")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"reservation": toReservationResponse(*res),
		"hold":        session.Hold(),
		"state":       session.State(),
	})
}

// Hold handles GET /api/v1/sessions/hold.
func (h *BookingHandler) Hold(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}
	writeJSON(w, http.StatusOK, session.Hold())
}

type paymentIntentRequest struct {
	Email string `json:"email"`
}

// CreatePaymentIntent handles POST /api/v1/sessions/payment/intent.
func (h *BookingHandler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var req paymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	setup, err := h.coordinator.Initiate(r.Context(), session, req.Email)
	if err != nil {
		var setupErr *payments.SetupError
		switch {
		case errors.Is(err, booking.ErrHoldExpired):
			writeError(w, http.StatusGone, "hold window has expired, please select a new slot")
		case errors.Is(err, booking.ErrNoReservation):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &setupErr):
			h.logger.Error("payment setup failed", "session_id", session.ID, "error", err)
			writeError(w, http.StatusBadGateway, "payment setup failed, please try again")
		default:
			writeError(w, http.StatusConflict, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, setup)
}

type confirmPaymentRequest struct {
	ClientSecret string `json:"clientSecret"`
	Card         struct {
		Number   string `json:"number"`
		ExpMonth string `json:"expMonth"`
		ExpYear  string `json:"expYear"`
		CVC      string `json:"cvc"`
		Name     string `json:"name"`
	} `json:"card"`
}

// ConfirmPayment handles POST /api/v1/sessions/payment/confirm.
func (h *BookingHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientSecret == "" {
		writeError(w, http.StatusBadRequest, "clientSecret and card details are required")
		return
	}

	card := payments.CardInput{
		Number:   req.Card.Number,
		ExpMonth: req.Card.ExpMonth,
		ExpYear:  req.Card.ExpYear,
		CVC:      req.Card.CVC,
		Name:     req.Card.Name,
	}
	res, err := h.coordinator.Confirm(r.Context(), session, card, req.ClientSecret)
	if err != nil {
		var failed *payments.FailedError
		switch {
		case errors.Is(err, booking.ErrHoldExpired):
			writeError(w, http.StatusGone, "hold window has expired, please select a new slot")
		case errors.Is(err, booking.ErrNoReservation), errors.Is(err, booking.ErrAlreadyConfirmed):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &failed):
			writeError(w, http.StatusPaymentRequired, failed.Error())
		default:
			h.logger.Error("payment confirmation failed", "session_id", session.ID, "error", err)
			writeError(w, http.StatusBadGateway, "payment confirmation failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reservation": toReservationResponse(*res),
		"state":       session.State(),
	})
}
