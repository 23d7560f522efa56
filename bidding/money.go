package bidding

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount of money in the smallest currency unit.
type Cents int64

// MinIncrement is the smallest step by which a bid must beat the current one.
const MinIncrement Cents = 1

var ErrInvalidAmount = errors.New("invalid amount")

// ParseCents parses a decimal string such as "10.01" into cents.
// More than two fractional digits are rejected rather than rounded.
func ParseCents(s string) (Cents, error) {
	const op = "ParseCents"
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("[%s] %w: %q", op, ErrInvalidAmount, s)
	}
	return CentsFromDecimal(d)
}

func CentsFromDecimal(d decimal.Decimal) (Cents, error) {
	const op = "CentsFromDecimal"
	shifted := d.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("[%s] %w: %s has sub-cent precision", op, ErrInvalidAmount, d.String())
	}
	if shifted.Abs().GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, fmt.Errorf("[%s] %w: %s is out of range", op, ErrInvalidAmount, d.String())
	}
	return Cents(shifted.IntPart()), nil
}

func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// MarshalText renders the amount as a fixed two digit decimal so that JSON
// bodies carry "10.01" rather than 1001.
func (c Cents) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cents) UnmarshalText(text []byte) error {
	v, err := ParseCents(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
