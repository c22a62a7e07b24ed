package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexInt64 decodes an integer the automation service may emit as a JSON
// number, a quoted number, or null.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("gateway: numeric field %q: %w", s, err)
		}
		*f = FlexInt64(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt64(n)
	return nil
}

// FlexBool decodes a boolean the automation service may emit as a JSON
// bool, a "true"/"false" string, or 0/1.
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*f = false
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("1")):
		*f = true
	case bytes.Equal(data, []byte("false")), bytes.Equal(data, []byte("0")):
		*f = false
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes":
			*f = true
		default:
			*f = false
		}
	default:
		return fmt.Errorf("gateway: cannot decode %q as bool", string(data))
	}
	return nil
}

// PatientDetails carries the intake form fields for patient registration.
type PatientDetails struct {
	FirstName    string `json:"FirstName"`
	Surname      string `json:"Surname"`
	DateOfBirth  string `json:"DOB"` // YYYY-MM-DD
	Gender       string `json:"Gender"`
	MobileNo     string `json:"MobileNo"`
	Email        string `json:"Email,omitempty"`
	Reason       string `json:"Reason"`
	CurrAddress1 string `json:"CurrAddress1"`
	CurrAddress2 string `json:"CurrAddress2"`
	HomeAddress1 string `json:"HomeAddress1"`
	HomeAddress2 string `json:"HomeAddress2"`
}

// RegistrationResult is the canonical save_patient_details response.
// PatientID and VisitID are both required by callers; CaseNo may be empty.
type RegistrationResult struct {
	PatientID FlexInt64 `json:"PatientID"`
	VisitID   FlexInt64 `json:"VisitID"`
	CaseNo    string    `json:"CaseNo,omitempty"`
	MobileNo  string    `json:"MobileNo,omitempty"` // server-normalized echo
}

// AppointmentRequest is the book_appointment body, used both for the
// provisional reservation (Status=false) and final confirmation
// (Status=true, AppointmentID set).
type AppointmentRequest struct {
	PatientID     int64  `json:"PatientID"`
	VisitID       int64  `json:"VisitID"`
	CaseType      string `json:"CaseType"`
	TrCentreID    int64  `json:"TrCentreID"`
	AppointmentID int64  `json:"AppointmentID"`
	StartTime     string `json:"StartTime"`
	EndTime       string `json:"EndTime"`
	Status        bool   `json:"Status"`
}

// AppointmentResult is the canonical book_appointment response.
type AppointmentResult struct {
	PatientID     FlexInt64 `json:"PatientID"`
	VisitID       FlexInt64 `json:"VisitID"`
	TrCentreID    FlexInt64 `json:"TrCentreID"`
	AppointmentID FlexInt64 `json:"AppointmentID"`
	StartTime     string    `json:"StartTime"`
	EndTime       string    `json:"EndTime"`
	Status        FlexBool  `json:"Status"`
	CaseNo        string    `json:"CaseNo"`
}

// Slot is one bookable time range at a treatment centre, in 24-hour
// local display time.
type Slot struct {
	SlotID    FlexInt64 `json:"SlotID"`
	StartTime string    `json:"StartTime"` // HH:MM
	EndTime   string    `json:"EndTime"`   // HH:MM
	Available FlexBool  `json:"Available"`
}

// slotList is the canonical appointment_slots payload.
type slotList struct {
	Slots []Slot `json:"Slots"`
}

// PaymentIntentResult carries the three references the payment sheet
// needs. All three are required; missing any is a setup failure.
type PaymentIntentResult struct {
	PaymentIntent  string `json:"paymentIntent"` // client secret
	EphemeralKey   string `json:"ephemeralKey"`
	Customer       string `json:"customer"`
	PublishableKey string `json:"publishableKey,omitempty"`
}

// BookingSummary is the send_confirmation_emails body.
type BookingSummary struct {
	PatientName string `json:"PatientName"`
	Email       string `json:"Email"`
	MobileNo    string `json:"MobileNo"`
	CentreName  string `json:"CentreName"`
	CaseNo      string `json:"CaseNo"`
	StartTime   string `json:"StartTime"`
	EndTime     string `json:"EndTime"`
}
