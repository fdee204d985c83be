package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in the currency's minor unit (cents for USD).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// NewMoney builds Money with an upper-cased currency code.
func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// Zero returns a zero amount in currency.
func Zero(currency string) Money {
	return NewMoney(0, currency)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

func (m Money) sameCurrency(o Money) error {
	if !strings.EqualFold(m.Currency, o.Currency) {
		return &ValidationError{Field: "currency", Reason: fmt.Sprintf("currency mismatch %s != %s", m.Currency, o.Currency)}
	}
	return nil
}

// Add sums two amounts of the same currency.
func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + o.Amount, Currency: m.Currency}, nil
}

// Sub subtracts o from m. Both must share a currency.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount - o.Amount, Currency: m.Currency}, nil
}

// Mul multiplies the amount by a quantity.
func (m Money) Mul(qty int) Money {
	return Money{Amount: m.Amount * int64(qty), Currency: m.Currency}
}

// BasisPoints returns bps/10000 of the amount, rounded half-to-even to
// the minor unit. 1000 bps is 10%.
func (m Money) BasisPoints(bps int64) Money {
	v := decimal.NewFromInt(m.Amount).Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(10000))
	return Money{Amount: v.RoundBank(0).IntPart(), Currency: m.Currency}
}

// Decimal renders the amount in major units, e.g. 1999 USD -> "19.99".
func (m Money) Decimal() string {
	exp := MinorUnitExponent(m.Currency)
	return decimal.New(m.Amount, -exp).StringFixed(exp)
}

func (m Money) String() string {
	return m.Decimal() + " " + m.Currency
}

// ParseMoney converts a decimal string in major units into Money.
// Sub-minor-unit precision is rounded half-to-even.
func ParseMoney(amount, currency string) (Money, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return Zero(currency), nil
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, &ValidationError{Field: "amount", Reason: fmt.Sprintf("invalid decimal %q", amount)}
	}
	exp := MinorUnitExponent(currency)
	return NewMoney(d.Shift(exp).RoundBank(0).IntPart(), currency), nil
}

// MinorUnitExponent returns the ISO 4217 minor unit digits for currency.
func MinorUnitExponent(currency string) int32 {
	switch strings.ToUpper(currency) {
	case "JPY", "KRW", "VND", "CLP", "ISK", "UGX", "XAF", "XOF":
		return 0
	case "BHD", "KWD", "OMR", "JOD", "TND":
		return 3
	default:
		return 2
	}
}

// Allocate splits total across weights proportionally. Every share is
// rounded half-to-even and the rounding residue is handed out one minor
// unit at a time in order of largest fractional remainder, so the shares
// always sum to total.
func Allocate(total Money, weights []int64) []Money {
	out := make([]Money, len(weights))
	var sum int64
	for _, w := range weights {
		sum += w
	}
	if len(weights) == 0 {
		return out
	}
	if sum == 0 {
		for i := range out {
			out[i] = Zero(total.Currency)
		}
		return out
	}

	type rem struct {
		idx  int
		frac decimal.Decimal
	}
	var (
		allocated int64
		rems      = make([]rem, 0, len(weights))
	)
	dTotal := decimal.NewFromInt(total.Amount)
	dSum := decimal.NewFromInt(sum)
	for i, w := range weights {
		exact := dTotal.Mul(decimal.NewFromInt(w)).Div(dSum)
		floor := exact.Floor()
		out[i] = Money{Amount: floor.IntPart(), Currency: total.Currency}
		allocated += floor.IntPart()
		rems = append(rems, rem{idx: i, frac: exact.Sub(floor)})
	}
	residue := total.Amount - allocated
	for residue > 0 {
		best := -1
		for j, r := range rems {
			if best == -1 || r.frac.GreaterThan(rems[best].frac) {
				best = j
			}
		}
		out[rems[best].idx].Amount++
		rems[best].frac = decimal.NewFromInt(-1)
		residue--
	}
	return out
}
