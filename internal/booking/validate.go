package booking

import (
	"regexp"
	"strings"
	"time"

	"github.com/oohdoc/booking-platform/internal/gateway"
)

const (
	minPatientAge = 3
	maxPatientAge = 75
)

// irishMobileRe matches Irish mobile numbers in national (08x…) or
// international (+3538x…) form, after separators are stripped.
var irishMobileRe = regexp.MustCompile(`^(?:\+353|0)8[3569]\d{7}$`)

// ValidateIntake checks the mandatory intake fields. It returns a
// *ValidationError naming every failing field, or nil. No network call
// is made until this passes.
func ValidateIntake(details gateway.PatientDetails) error {
	return validateIntakeAt(details, time.Now())
}

func validateIntakeAt(details gateway.PatientDetails, now time.Time) error {
	fields := map[string]string{}

	if strings.TrimSpace(details.FirstName) == "" {
		fields["firstName"] = "first name is required"
	}
	if strings.TrimSpace(details.Surname) == "" {
		fields["surname"] = "surname is required"
	}

	if dob := strings.TrimSpace(details.DateOfBirth); dob == "" {
		fields["dateOfBirth"] = "date of birth is required"
	} else if parsed, err := time.Parse(DateLayout, dob); err != nil {
		fields["dateOfBirth"] = "date of birth must be YYYY-MM-DD"
	} else if age := yearsBetween(parsed, now); age < minPatientAge || age > maxPatientAge {
		fields["dateOfBirth"] = "patient age must be between 3 and 75"
	}

	switch strings.ToLower(strings.TrimSpace(details.Gender)) {
	case "male", "female", "other":
	case "":
		fields["gender"] = "gender is required"
	default:
		fields["gender"] = "gender must be male, female or other"
	}

	if strings.TrimSpace(details.Reason) == "" {
		fields["reason"] = "reason for contact is required"
	}

	if !validIrishMobile(details.MobileNo) {
		fields["mobileNo"] = "a valid Irish mobile number is required"
	}

	if strings.TrimSpace(details.CurrAddress1) == "" {
		fields["currAddress1"] = "current address is required"
	}
	if strings.TrimSpace(details.HomeAddress1) == "" {
		fields["homeAddress1"] = "home address is required"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validIrishMobile(number string) bool {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(number)
	return irishMobileRe.MatchString(cleaned)
}

// yearsBetween returns whole years from dob to now.
func yearsBetween(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	anniversary := dob.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}
