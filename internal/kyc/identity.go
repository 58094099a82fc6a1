// Package kyc holds the identity extracted from a document and derives the
// minimal claim that gets signed for it.
package kyc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aspect-build/kycattest/internal/canonical"
)

var ErrInvalidDateOfBirth = errors.New("invalid date of birth")

// yearLength is the average Gregorian year used for age arithmetic.
const yearLength = time.Duration(365.25 * 24 * float64(time.Hour))

// DateOfBirth accepts a JSON string ("1990-05-01") or number (a bare year
// such as 1990, or a Unix timestamp in milliseconds).
type DateOfBirth string

func (d *DateOfBirth) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = DateOfBirth(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDateOfBirth, data)
	}
	*d = DateOfBirth(n.String())
	return nil
}

// Identity is the result of document extraction. Over18 and Over21 are
// derived from DateOfBirth by Complete.
type Identity struct {
	Success     bool        `json:"success"`
	Country     *string     `json:"country"`
	IDNumber    *string     `json:"id_number"`
	DateOfBirth DateOfBirth `json:"date_of_birth,omitempty"`
	Over18      bool        `json:"over_18"`
	Over21      bool        `json:"over_21"`
}

// Complete sets the age flags from the date of birth as of now. An absent or
// unparseable date leaves both flags false and is reported as an error.
func (id *Identity) Complete(now time.Time) error {
	id.Over18, id.Over21 = false, false
	if id.DateOfBirth == "" {
		return fmt.Errorf("%w: not provided", ErrInvalidDateOfBirth)
	}
	over18, over21, err := AgeFlags(string(id.DateOfBirth), now)
	if err != nil {
		return err
	}
	id.Over18, id.Over21 = over18, over21
	return nil
}

// Claim returns the minimal claim that is signed: id_number (null when
// unknown) and the two age flags.
func (id *Identity) Claim() canonical.Claim {
	var number any
	if id.IDNumber != nil && *id.IDNumber != "" {
		number = *id.IDNumber
	}
	return canonical.Claim{
		"id_number": number,
		"over_18":   id.Over18,
		"over_21":   id.Over21,
	}
}

// AgeFlags reports whether someone born on dob is at least 18 and 21 years
// old at now.
func AgeFlags(dob string, now time.Time) (over18, over21 bool, err error) {
	born, err := ParseDateOfBirth(dob)
	if err != nil {
		return false, false, err
	}
	years := float64(now.Sub(born)) / float64(yearLength)
	return years >= 18, years >= 21, nil
}

// ParseDateOfBirth accepts YYYY-MM-DD, RFC 3339, a bare year strictly
// between 1900 and 2100 (taken as January 1st), or a millisecond timestamp.
func ParseDateOfBirth(dob string) (time.Time, error) {
	s := strings.TrimSpace(dob)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidDateOfBirth)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1900 && n < 2100 {
			return time.Date(int(n), time.January, 1, 0, 0, 0, 0, time.UTC), nil
		}
		return time.UnixMilli(n).UTC(), nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateOfBirth, dob)
}

// TaskData is the task payload published alongside a record:
// "<publicKey>_over_21", "<publicKey>_over_18" or "<publicKey>_".
func TaskData(publicKey string, id Identity) string {
	age := ""
	switch {
	case id.Over21:
		age = "over_21"
	case id.Over18:
		age = "over_18"
	}
	return publicKey + "_" + age
}
