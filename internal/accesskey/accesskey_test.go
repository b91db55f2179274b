package accesskey

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "manifest-gateway/pkg/domain-errors"
)

func validFields() Fields {
	return Fields{
		RegionCode:   35,
		EmittedAt:    time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		IssuerTaxID:  "12345678000190",
		Model:        58,
		Series:       1,
		Number:       42,
		EmissionType: 1,
		Code:         12345678,
	}
}

func TestBuildProducesValidKey(t *testing.T) {
	key, err := Build(validFields())
	require.NoError(t, err)
	assert.Len(t, string(key), KeyLength)
	assert.True(t, Validate(string(key)))
}

func TestBuildIsDeterministic(t *testing.T) {
	a, err := Build(validFields())
	require.NoError(t, err)
	b, err := Build(validFields())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildLayout(t *testing.T) {
	key, err := Build(validFields())
	require.NoError(t, err)
	s := string(key)
	assert.Equal(t, "35", s[0:2], "region code")
	assert.Equal(t, "2503", s[2:6], "emission year/month")
	assert.Equal(t, "12345678000190", s[6:20], "issuer tax id")
	assert.Equal(t, "58", s[20:22], "model")
	assert.Equal(t, "001", s[22:25], "series")
	assert.Equal(t, "000000042", s[25:34], "number")
	assert.Equal(t, "1", s[34:35], "emission type")
	assert.Equal(t, "12345678", s[35:43], "code")
}

func TestBuildRejectsInvalidFields(t *testing.T) {
	cases := map[string]func(*Fields){
		"zero region code":       func(f *Fields) { f.RegionCode = 0 },
		"region code overflow":   func(f *Fields) { f.RegionCode = 100 },
		"zero emission time":     func(f *Fields) { f.EmittedAt = time.Time{} },
		"short tax id":           func(f *Fields) { f.IssuerTaxID = "123" },
		"non-numeric tax id":     func(f *Fields) { f.IssuerTaxID = "12345678ABC190" },
		"series overflow":        func(f *Fields) { f.Series = 1000 },
		"number overflow":        func(f *Fields) { f.Number = 1_000_000_000 },
		"negative number":        func(f *Fields) { f.Number = -1 },
		"emission type overflow": func(f *Fields) { f.EmissionType = 10 },
		"code overflow":          func(f *Fields) { f.Code = 100_000_000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := validFields()
			mutate(&f)
			_, err := Build(f)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidField))
		})
	}
}

func TestValidateDetectsSingleDigitFlips(t *testing.T) {
	key, err := Build(validFields())
	require.NoError(t, err)
	s := string(key)
	for i := 0; i < len(s); i++ {
		flipped := []byte(s)
		flipped[i] = '0' + byte((int(s[i]-'0')+1)%10)
		assert.False(t, Validate(string(flipped)), "flip at position %d should invalidate key", i)
	}
}

func TestValidateRejectsMalformedKeys(t *testing.T) {
	assert.False(t, Validate(""))
	assert.False(t, Validate("123"))
	assert.False(t, Validate(fmt.Sprintf("%044d", 0)[:43]+"X"))
}

func TestCheckDigitRemainderBelowTwoMapsToZero(t *testing.T) {
	// Brute-force a base whose weighted sum has remainder 0 or 1.
	base := []byte("3525031234567800019058001000000042112345678"[:43])
	found := false
	for c := byte('0'); c <= '9'; c++ {
		base[42] = c
		sum := 0
		weight := 2
		for i := len(base) - 1; i >= 0; i-- {
			sum += int(base[i]-'0') * weight
			weight++
			if weight > 9 {
				weight = 2
			}
		}
		if sum%11 < 2 {
			found = true
			dv, err := CheckDigit(string(base))
			require.NoError(t, err)
			assert.Equal(t, 0, dv)
		}
	}
	require.True(t, found, "expected at least one remainder-below-two case in sweep")
}

func TestCheckDigitRoundTripAcrossNumbers(t *testing.T) {
	for number := 1; number <= 250; number++ {
		f := validFields()
		f.Number = number
		key, err := Build(f)
		require.NoError(t, err)
		assert.True(t, Validate(string(key)), "number %d", number)
	}
}
