package inventory

import (
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-assets/internal/assets"
)

// LatestCaptures reduces captures to one per asset: the latest captured_at wins, ties go to the higher id.
func LatestCaptures(captures []Capture) map[int64]Capture {
	latest := make(map[int64]Capture, len(captures))
	for _, c := range captures {
		prev, ok := latest[c.AssetID]
		if !ok || c.CapturedAt.After(prev.CapturedAt) || (c.CapturedAt.Equal(prev.CapturedAt) && c.ID > prev.ID) {
			latest[c.AssetID] = c
		}
	}
	return latest
}

// Reconcile diffs the expected holdings against the captures of a cycle. Output is ordered
// by asset id with extras last, and carries at most one row per type per asset.
func Reconcile(cycleID int64, expected []ExpectedHolding, captures []Capture, detectedAt time.Time) []Discrepancy {
	latest := LatestCaptures(captures)

	sorted := make([]ExpectedHolding, len(expected))
	copy(sorted, expected)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AssetID < sorted[j].AssetID })

	var out []Discrepancy
	seen := make(map[int64]struct{}, len(sorted))
	for _, exp := range sorted {
		seen[exp.AssetID] = struct{}{}
		base := Discrepancy{
			CycleID:             cycleID,
			AssetID:             exp.AssetID,
			AssetCode:           exp.AssetCode,
			ExpectedLocationID:  exp.LocationID,
			ExpectedCustodianID: exp.CustodianID,
			ExpectedQty:         1,
			Status:              DiscrepancyStatusDetected,
			DetectedAt:          detectedAt,
		}
		capture, ok := latest[exp.AssetID]
		if !ok {
			d := base
			d.Type = DiscrepancyMissing
			out = append(out, d)
			continue
		}
		base.FoundQty = 1
		base.FoundLocationID = assets.Ref(capture.LocationID)
		base.FoundCustodianID = capture.CustodianID
		if !assets.SameRef(exp.LocationID, base.FoundLocationID) {
			d := base
			d.Type = DiscrepancyLocationMismatch
			out = append(out, d)
		}
		if capture.CustodianID != nil && !assets.SameRef(exp.CustodianID, capture.CustodianID) {
			d := base
			d.Type = DiscrepancyCustodianMismatch
			out = append(out, d)
		}
	}

	var extras []Capture
	for assetID, c := range latest {
		if _, ok := seen[assetID]; !ok {
			extras = append(extras, c)
		}
	}
	sort.Slice(extras, func(i, j int) bool { return extras[i].AssetID < extras[j].AssetID })
	for _, c := range extras {
		out = append(out, Discrepancy{
			CycleID:          cycleID,
			AssetID:          c.AssetID,
			AssetCode:        c.AssetCode,
			Type:             DiscrepancyExtra,
			FoundLocationID:  assets.Ref(c.LocationID),
			FoundCustodianID: c.CustodianID,
			FoundQty:         1,
			Status:           DiscrepancyStatusDetected,
			DetectedAt:       detectedAt,
		})
	}
	return out
}
