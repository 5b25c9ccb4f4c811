package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a monetary amount that remembers the literal text it was decoded
// from. Signatures are computed over that text, so 10.00 and 10 differ.
type Money struct {
	raw   string
	value decimal.Decimal
}

// NewMoney builds an amount from a decimal, rendered with two places.
func NewMoney(d decimal.Decimal) Money {
	return Money{raw: d.StringFixed(2), value: d}
}

// ParseMoney parses a literal amount such as "10.00".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("event: invalid amount %q: %w", s, err)
	}
	return Money{raw: s, value: d}, nil
}

// Decimal returns the numeric value.
func (m Money) Decimal() decimal.Decimal {
	return m.value
}

// IsZero reports whether the amount is unset.
func (m Money) IsZero() bool {
	return m.raw == ""
}

// String returns the amount exactly as it appeared in the payload.
func (m Money) String() string {
	return m.raw
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = Money{}
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalJSON writes the amount as a JSON number using its literal text.
func (m Money) MarshalJSON() ([]byte, error) {
	if m.raw == "" {
		return []byte("null"), nil
	}
	return []byte(m.raw), nil
}

// Scalar is a JSON string or number kept as its literal text. QIWI sends
// some identifiers and currency codes as either.
type Scalar string

// UnmarshalJSON accepts a JSON string or number.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Scalar(str)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("event: expected string or number, got %s", data)
		}
		*s = Scalar(n.String())
	}
	return nil
}
