// Package accesskey builds and validates the 44-digit access key that
// identifies a transport manifest. The key is the system-wide idempotency key:
// once assigned to a manifest it never changes, and the authority indexes every
// submission and event by it.
package accesskey

import (
	"fmt"
	"strings"
	"time"

	dErrors "manifest-gateway/pkg/domain-errors"
)

// Key is a validated 44-digit access key.
type Key string

func (k Key) String() string { return string(k) }

// KeyLength is the total key length including the trailing check digit.
const KeyLength = 44

// Fields are the fixed-width components concatenated into a key, in wire
// order. All values are rendered zero-padded; a value that overflows its width
// is an invalid field, never silently truncated.
type Fields struct {
	RegionCode   int       // IBGE region code of the issuing state, 2 digits
	EmittedAt    time.Time // year and month of emission, rendered as YYMM
	IssuerTaxID  string    // issuer CNPJ, exactly 14 digits
	Model        int       // fiscal document model, 2 digits (58 for transport manifests)
	Series       int       // 3 digits
	Number       int       // document number, 9 digits
	EmissionType int       // 1 digit
	Code         int       // numeric code distinguishing keys within a series, 8 digits
}

// Build renders the fields into their fixed widths, computes the modulo-11
// check digit and appends it. The same fields always produce the same key.
func Build(f Fields) (Key, error) {
	if f.RegionCode < 1 || f.RegionCode > 99 {
		return "", dErrors.Newf(dErrors.CodeInvalidField, "region code %d out of range", f.RegionCode)
	}
	if f.EmittedAt.IsZero() {
		return "", dErrors.New(dErrors.CodeInvalidField, "emission timestamp is required")
	}
	if len(f.IssuerTaxID) != 14 || !digitsOnly(f.IssuerTaxID) {
		return "", dErrors.New(dErrors.CodeInvalidField, "issuer tax id must be exactly 14 digits")
	}
	for _, field := range []struct {
		name  string
		value int
		width int
	}{
		{"model", f.Model, 2},
		{"series", f.Series, 3},
		{"number", f.Number, 9},
		{"emission type", f.EmissionType, 1},
		{"code", f.Code, 8},
	} {
		if field.value < 0 || len(fmt.Sprintf("%d", field.value)) > field.width {
			return "", dErrors.Newf(dErrors.CodeInvalidField, "%s %d overflows %d digits", field.name, field.value, field.width)
		}
	}

	var b strings.Builder
	b.Grow(KeyLength)
	fmt.Fprintf(&b, "%02d", f.RegionCode)
	fmt.Fprintf(&b, "%02d%02d", f.EmittedAt.Year()%100, int(f.EmittedAt.Month()))
	b.WriteString(f.IssuerTaxID)
	fmt.Fprintf(&b, "%02d", f.Model)
	fmt.Fprintf(&b, "%03d", f.Series)
	fmt.Fprintf(&b, "%09d", f.Number)
	fmt.Fprintf(&b, "%d", f.EmissionType)
	fmt.Fprintf(&b, "%08d", f.Code)

	base := b.String()
	dv, err := CheckDigit(base)
	if err != nil {
		return "", err
	}
	return Key(fmt.Sprintf("%s%d", base, dv)), nil
}

// CheckDigit computes the modulo-11 check digit over a 43-digit string.
// Weights cycle 2..9 starting from the rightmost digit; a remainder below 2
// maps to digit 0, otherwise the digit is 11 minus the remainder.
func CheckDigit(digits string) (int, error) {
	if len(digits) != KeyLength-1 {
		return 0, dErrors.Newf(dErrors.CodeInvalidField, "check digit input must be %d digits, got %d", KeyLength-1, len(digits))
	}
	if !digitsOnly(digits) {
		return 0, dErrors.New(dErrors.CodeInvalidField, "check digit input must be numeric")
	}
	sum := 0
	weight := 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	remainder := sum % 11
	if remainder < 2 {
		return 0, nil
	}
	return 11 - remainder, nil
}

// Validate reports whether key is a well-formed 44-digit access key whose
// trailing check digit matches the preceding 43 digits. It is applied both to
// keys this system constructs and to keys received from external documents, to
// catch transcription corruption.
func Validate(key string) bool {
	if len(key) != KeyLength || !digitsOnly(key) {
		return false
	}
	dv, err := CheckDigit(key[:KeyLength-1])
	if err != nil {
		return false
	}
	return int(key[KeyLength-1]-'0') == dv
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
