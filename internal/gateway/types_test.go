package gateway

import (
	"encoding/json"
	"testing"
)

func TestFlexInt64(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{"number", `123`, 123, false},
		{"quoted number", `"456"`, 456, false},
		{"quoted with spaces", `" 789 "`, 789, false},
		{"null", `null`, 0, false},
		{"empty string", `""`, 0, false},
		{"negative", `-5`, -5, false},
		{"not a number", `"abc"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexInt64
			err := json.Unmarshal([]byte(tt.raw), &f)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal %s: %v", tt.raw, err)
			}
			if int64(f) != tt.want {
				t.Errorf("got %d, want %d", int64(f), tt.want)
			}
		})
	}
}

func TestFlexBool(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    bool
		wantErr bool
	}{
		{"true", `true`, true, false},
		{"false", `false`, false, false},
		{"one", `1`, true, false},
		{"zero", `0`, false, false},
		{"string true", `"true"`, true, false},
		{"string True mixed case", `"True"`, true, false},
		{"string false", `"false"`, false, false},
		{"string yes", `"yes"`, true, false},
		{"null", `null`, false, false},
		{"object", `{}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexBool
			err := json.Unmarshal([]byte(tt.raw), &f)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal %s: %v", tt.raw, err)
			}
			if bool(f) != tt.want {
				t.Errorf("got %v, want %v", bool(f), tt.want)
			}
		})
	}
}

func TestAppointmentResultDecodeStringyFields(t *testing.T) {
	raw := `{"PatientID": "101", "VisitID": 202, "AppointmentID": "303", "Status": "true", "CaseNo": "OOH-123"}`

	var result AppointmentResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.PatientID != 101 || result.VisitID != 202 || result.AppointmentID != 303 {
		t.Errorf("ids = %d/%d/%d, want 101/202/303", result.PatientID, result.VisitID, result.AppointmentID)
	}
	if !result.Status {
		t.Error("Status should decode string true")
	}
	if result.CaseNo != "OOH-123" {
		t.Errorf("CaseNo = %q", result.CaseNo)
	}
}
