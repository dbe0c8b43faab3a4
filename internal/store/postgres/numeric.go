package postgres

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

// toNumeric renders a float amount as an exact decimal string so that pgx
// sends it to NUMERIC columns without a binary float round trip.
func toNumeric(v float64) string {
	return domain.AmountFromFloat(v).String()
}

// amountArg renders a money amount at the column scale.
func amountArg(d decimal.Decimal) string {
	return domain.RoundAmount(d).String()
}

// parseNumeric parses a NUMERIC column read as text.
func parseNumeric(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: parse numeric %q: %w", s, err)
	}
	return d, nil
}

// numericScanner collects NUMERIC::text columns and converts them after
// Scan, remembering the first parse failure.
type numericScanner struct {
	raw  []*string
	sets []func(decimal.Decimal)
}

func (n *numericScanner) add(set func(decimal.Decimal)) *string {
	s := new(string)
	n.raw = append(n.raw, s)
	n.sets = append(n.sets, set)
	return s
}

// target scans into a float column such as a performance value.
func (n *numericScanner) target(dst *float64) *string {
	return n.add(func(d decimal.Decimal) { *dst = d.InexactFloat64() })
}

// amount scans into a money column without leaving decimal.
func (n *numericScanner) amount(dst *decimal.Decimal) *string {
	return n.add(func(d decimal.Decimal) { *dst = d })
}

func (n *numericScanner) apply() error {
	for i, s := range n.raw {
		d, err := parseNumeric(*s)
		if err != nil {
			return err
		}
		n.sets[i](d)
	}
	return nil
}
