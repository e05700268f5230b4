package depreciation

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

// MethodCode identifies a depreciation strategy.
type MethodCode string

const (
	MethodStraightLine      MethodCode = "straight_line"
	MethodAccelerated       MethodCode = "accelerated"
	MethodUnitsOfProduction MethodCode = "units_of_production"
)

// Method computes the depreciation charged in a single period.
// Implementations never fail: degenerate input yields zero.
type Method interface {
	Code() MethodCode
	Name() string
	Calculate(purchase, residual decimal.Decimal, usefulLifeYears, period int) decimal.Decimal
}

var registry = map[MethodCode]Method{
	MethodStraightLine:      StraightLine{},
	MethodAccelerated:       Accelerated{},
	MethodUnitsOfProduction: UnitsOfProduction{},
}

// ParseMethodCode validates a method name.
func ParseMethodCode(raw string) (MethodCode, error) {
	code := MethodCode(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := registry[code]; !ok {
		return "", shared.Validationf("unknown depreciation method %q", raw)
	}
	return code, nil
}

// Lookup returns the registered strategy for code.
func Lookup(code MethodCode) (Method, bool) {
	m, ok := registry[code]
	return m, ok
}

// Methods lists registered strategies ordered by code.
func Methods() []Method {
	out := make([]Method, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code() < out[j].Code() })
	return out
}

// StraightLine spreads the depreciable amount evenly over the useful life.
type StraightLine struct{}

func (StraightLine) Code() MethodCode { return MethodStraightLine }

func (StraightLine) Name() string { return "Straight line" }

func (StraightLine) Calculate(purchase, residual decimal.Decimal, usefulLifeYears, period int) decimal.Decimal {
	if usefulLifeYears <= 0 || period <= 0 {
		return decimal.Zero
	}
	return depreciable(purchase, residual).Div(decimal.NewFromInt(int64(usefulLifeYears))).Round(2)
}

// Accelerated is sum-of-years-digits: period p is charged (N-p+1)/(N(N+1)/2) of the depreciable amount.
type Accelerated struct{}

func (Accelerated) Code() MethodCode { return MethodAccelerated }

func (Accelerated) Name() string { return "Sum of years digits" }

func (Accelerated) Calculate(purchase, residual decimal.Decimal, usefulLifeYears, period int) decimal.Decimal {
	if usefulLifeYears <= 0 || period <= 0 || period > usefulLifeYears {
		return decimal.Zero
	}
	n := int64(usefulLifeYears)
	digitSum := decimal.NewFromInt(n * (n + 1) / 2)
	remaining := decimal.NewFromInt(n - int64(period) + 1)
	return depreciable(purchase, residual).Mul(remaining).Div(digitSum).Round(2)
}

// UnitsOfProduction charges each period its share of estimated total output.
// Without a plan it behaves like StraightLine.
type UnitsOfProduction struct {
	TotalUnits int64
	Units      []int64
}

func (UnitsOfProduction) Code() MethodCode { return MethodUnitsOfProduction }

func (UnitsOfProduction) Name() string { return "Units of production" }

func (u UnitsOfProduction) Calculate(purchase, residual decimal.Decimal, usefulLifeYears, period int) decimal.Decimal {
	if u.TotalUnits <= 0 {
		return StraightLine{}.Calculate(purchase, residual, usefulLifeYears, period)
	}
	if usefulLifeYears <= 0 || period <= 0 || period > len(u.Units) {
		return decimal.Zero
	}
	units := u.Units[period-1]
	if units <= 0 {
		return decimal.Zero
	}
	return depreciable(purchase, residual).
		Mul(decimal.NewFromInt(units)).
		Div(decimal.NewFromInt(u.TotalUnits)).
		Round(2)
}

func depreciable(purchase, residual decimal.Decimal) decimal.Decimal {
	amount := purchase.Sub(residual)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}
