package inventory

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-assets/internal/assets"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

// MissingAction is the status change applied to an asset confirmed missing.
type MissingAction string

const (
	MissingRetire     MissingAction = "retire"
	MissingDispose    MissingAction = "dispose"
	MissingDeactivate MissingAction = "deactivate"
	MissingNone       MissingAction = "none"
)

// MissingPolicy decides what an approved "missing" discrepancy does to the asset.
// The action applies once the asset was already confirmed missing in at least GraceCycles
// earlier cycles; before that the asset is only flagged.
type MissingPolicy struct {
	Action      MissingAction
	GraceCycles int
}

// DefaultMissingPolicy retires missing assets on first confirmation.
func DefaultMissingPolicy() MissingPolicy {
	return MissingPolicy{Action: MissingRetire}
}

// ParseMissingAction validates a configured action name.
func ParseMissingAction(raw string) (MissingAction, error) {
	switch a := MissingAction(strings.ToLower(strings.TrimSpace(raw))); a {
	case MissingRetire, MissingDispose, MissingDeactivate, MissingNone:
		return a, nil
	case "":
		return MissingRetire, nil
	default:
		return "", shared.Validationf("unknown missing-asset action %q", raw)
	}
}

func (a MissingAction) status() (assets.Status, string, bool) {
	switch a {
	case MissingRetire:
		return assets.StatusRetired, shared.EventAssetRetired, true
	case MissingDispose:
		return assets.StatusDisposed, shared.EventAssetDisposed, true
	case MissingDeactivate:
		return assets.StatusInactive, shared.EventAssetDeactivated, true
	}
	return "", "", false
}

// correction is the asset mutation implied by an approved discrepancy.
type correction struct {
	asset      assets.Asset
	changed    bool
	resolution string
	events     []string
}

func (c *correction) moveTo(location *int64) {
	if location == nil || assets.SameRef(c.asset.LocationID, location) {
		return
	}
	c.asset.LocationID = location
	c.changed = true
	c.events = append(c.events, shared.EventAssetMoved)
	c.note(fmt.Sprintf("location set to %d", *location))
}

func (c *correction) assignTo(custodian *int64) {
	if custodian == nil || assets.SameRef(c.asset.CustodianID, custodian) {
		return
	}
	c.asset.CustodianID = custodian
	c.changed = true
	c.events = append(c.events, shared.EventAssetReassigned)
	c.note(fmt.Sprintf("custodian set to %d", *custodian))
}

func (c *correction) setStatus(status assets.Status, event string) {
	if c.asset.Status == status {
		return
	}
	c.note(fmt.Sprintf("status %s -> %s", c.asset.Status, status))
	c.asset.Status = status
	c.changed = true
	c.events = append(c.events, event)
}

func (c *correction) note(s string) {
	if c.resolution != "" {
		c.resolution += "; "
	}
	c.resolution += s
}

// planCorrection derives the asset mutation for an approved discrepancy. priorMissing counts
// resolved missing discrepancies for the asset in other cycles.
func planCorrection(d Discrepancy, asset assets.Asset, policy MissingPolicy, priorMissing int) correction {
	c := correction{asset: asset}
	switch d.Type {
	case DiscrepancyLocationMismatch:
		c.moveTo(d.FoundLocationID)
	case DiscrepancyCustodianMismatch:
		c.assignTo(d.FoundCustodianID)
	case DiscrepancyExtra:
		c.moveTo(d.FoundLocationID)
		c.assignTo(d.FoundCustodianID)
		if asset.Status.Dormant() {
			c.setStatus(assets.StatusActive, shared.EventAssetReactivated)
		}
	case DiscrepancyMissing:
		status, event, ok := policy.Action.status()
		switch {
		case !ok:
			c.note("flagged: missing, no action configured")
		case priorMissing < policy.GraceCycles:
			c.note(fmt.Sprintf("flagged: missing %d of %d grace cycles", priorMissing+1, policy.GraceCycles))
		default:
			c.setStatus(status, event)
		}
	}
	if c.resolution == "" {
		c.resolution = "no change required"
	}
	return c
}
