package depreciation

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-assets/internal/assets"
)

// ResolveMethod picks the asset override, then the category default, then StraightLine.
// Unknown stored codes are skipped rather than failing the computation.
func ResolveMethod(asset assets.Asset, category *assets.Category) Method {
	candidates := []string{asset.DepreciationMethod}
	if category != nil {
		candidates = append(candidates, category.DepreciationMethod)
	}
	for _, raw := range candidates {
		if raw == "" {
			continue
		}
		code, err := ParseMethodCode(raw)
		if err != nil {
			continue
		}
		if code == MethodUnitsOfProduction {
			return UnitsOfProduction{TotalUnits: asset.Production.TotalUnits, Units: asset.Production.Units}
		}
		m, _ := Lookup(code)
		return m
	}
	return StraightLine{}
}

// CalculateSchedule builds the full schedule for an asset. Cumulative depreciation never
// exceeds purchase minus residual, and the final period absorbs rounding so that its book
// value equals the residual exactly.
func CalculateSchedule(asset assets.Asset, category *assets.Category) []ScheduleEntry {
	method := ResolveMethod(asset, category)
	life := asset.UsefulLifeYears
	if life <= 0 {
		life = DefaultUsefulLifeYears
	}
	if life > MaxUsefulLifeYears {
		life = MaxUsefulLifeYears
	}
	purchase := asset.PurchaseValue
	if purchase.IsNegative() {
		purchase = decimal.Zero
	}
	residual := asset.ResidualValue
	if residual.IsNegative() {
		residual = decimal.Zero
	}
	if residual.GreaterThan(purchase) {
		residual = purchase
	}
	ceiling := purchase.Sub(residual)

	entries := make([]ScheduleEntry, 0, life)
	cumulative := decimal.Zero
	for period := 1; period <= life; period++ {
		charge := method.Calculate(purchase, residual, life, period)
		if charge.IsNegative() {
			charge = decimal.Zero
		}
		remaining := ceiling.Sub(cumulative)
		if period == life || charge.GreaterThan(remaining) {
			charge = remaining
		}
		cumulative = cumulative.Add(charge)
		entries = append(entries, ScheduleEntry{
			Period:                 period,
			Depreciation:           charge,
			CumulativeDepreciation: cumulative,
			BookValue:              purchase.Sub(cumulative),
			Method:                 method.Code(),
		})
	}
	return entries
}
