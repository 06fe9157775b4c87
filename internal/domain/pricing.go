package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in the smallest currency unit (cents).
// It is rendered as a decimal number in JSON, e.g. 999 -> 9.99.
type Money int64

// MoneyFromFloat converts a decimal amount to Money, rounding to the nearest cent.
func MoneyFromFloat(v float64) Money {
	return Money(math.Round(v * 100))
}

// Float returns the decimal representation.
func (m Money) Float() float64 {
	return float64(m) / 100
}

func (m Money) String() string {
	return strconv.FormatFloat(m.Float(), 'f', 2, 64)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid money amount: %w", err)
	}
	*m = MoneyFromFloat(v)
	return nil
}

// RetentionDiscountPercent is the fixed discount granted when a user accepts a retention offer.
const RetentionDiscountPercent = 30

// PlanPricing holds the full and retention-discounted unit price of a plan.
type PlanPricing struct {
	Original   Money `json:"original"`
	Discounted Money `json:"discounted"`
}

// PriceFor returns the discounted price when discounted is true, else the full price.
func (p PlanPricing) PriceFor(discounted bool) Money {
	if discounted {
		return p.Discounted
	}
	return p.Original
}

// PriceTable maps every recognized plan to its pricing.
// It is built once at startup and never mutated afterwards.
type PriceTable struct {
	plans map[Plan]PlanPricing
}

// DefaultPriceTable is used when no prices are configured.
func DefaultPriceTable() PriceTable {
	return NewPriceTable(
		PlanPricing{Original: 999, Discounted: 699},
		PlanPricing{Original: 9999, Discounted: 6999},
	)
}

// NewPriceTable builds the table for the two supported plans.
func NewPriceTable(monthly, annual PlanPricing) PriceTable {
	return PriceTable{plans: map[Plan]PlanPricing{
		PlanMonthly: monthly,
		PlanAnnual:  annual,
	}}
}

// Lookup returns the pricing for plan or ErrInvalidArgument listing the recognized plans.
func (t PriceTable) Lookup(plan Plan) (PlanPricing, error) {
	pricing, ok := t.plans[plan]
	if !ok {
		return PlanPricing{}, unknownPlanError(plan)
	}
	return pricing, nil
}

// Validate checks every plan is priced and the discount is a real reduction.
func (t PriceTable) Validate() error {
	for _, plan := range Plans() {
		p, ok := t.plans[plan]
		if !ok {
			return fmt.Errorf("missing pricing for plan %q", plan)
		}
		if p.Original <= 0 || p.Discounted <= 0 {
			return fmt.Errorf("pricing for plan %q must be positive", plan)
		}
		if p.Discounted >= p.Original {
			return fmt.Errorf("discounted price for plan %q must be lower than the original", plan)
		}
	}
	return nil
}

// Snapshot returns a copy of the table contents, keyed by plan.
func (t PriceTable) Snapshot() map[Plan]PlanPricing {
	out := make(map[Plan]PlanPricing, len(t.plans))
	for k, v := range t.plans {
		out[k] = v
	}
	return out
}

func unknownPlanError(plan Plan) error {
	return fmt.Errorf("%w: unrecognized plan %q (expected one of: %s)",
		ErrInvalidArgument, plan, strings.Join(planNames(), ", "))
}

func planNames() []string {
	plans := Plans()
	names := make([]string, len(plans))
	for i, p := range plans {
		names[i] = string(p)
	}
	return names
}
