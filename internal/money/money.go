// Package money carries monetary amounts as integer cents so that event
// payload decoding and aggregate arithmetic never touch floating point.
// Upstream contracts send amounts either as JSON numbers or as decimal
// strings ("10.00"); both forms decode to the same Cents value.
package money

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Cents is a monetary amount in hundredths of the currency unit.
type Cents int64

// Parse converts a decimal string such as "10", "10.5" or "10.00" to Cents.
// More than two fractional digits is rejected rather than rounded.
func Parse(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" || s == "." {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	var cents int64
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("invalid amount %q", s)
			}
			cents = cents*10 + int64(r-'0')
		}
	}
	if neg {
		cents = -cents
	}
	return Cents(cents), nil
}

// String renders the amount as a plain decimal with two fractional digits,
// suitable for a numeric(12,2) column parameter.
func (c Cents) String() string {
	v := int64(c)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// UnmarshalJSON accepts either a JSON number or a decimal string.
func (c *Cents) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case json.Number:
		parsed, err := Parse(v.String())
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	default:
		return fmt.Errorf("amount must be a number or decimal string, got %T", raw)
	}
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}
