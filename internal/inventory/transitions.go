package inventory

import "github.com/odyssey-erp/odyssey-assets/internal/shared"

// Cycles move strictly forward one step at a time.
var cycleTransitions = map[CycleStatus]CycleStatus{
	CycleStatusPlanned:         CycleStatusInProgress,
	CycleStatusInProgress:      CycleStatusCaptureComplete,
	CycleStatusCaptureComplete: CycleStatusReconciling,
	CycleStatusReconciling:     CycleStatusCompleted,
}

var discrepancyTransitions = map[DiscrepancyStatus][]DiscrepancyStatus{
	DiscrepancyStatusDetected:        {DiscrepancyStatusPendingApproval},
	DiscrepancyStatusPendingApproval: {DiscrepancyStatusApproved, DiscrepancyStatusRejected},
	DiscrepancyStatusApproved:        {DiscrepancyStatusResolved},
}

// CanTransition reports whether the cycle may move from s to next.
func (s CycleStatus) CanTransition(next CycleStatus) bool {
	to, ok := cycleTransitions[s]
	return ok && to == next
}

// Terminal reports whether no further transitions exist.
func (s CycleStatus) Terminal() bool {
	_, ok := cycleTransitions[s]
	return !ok
}

// Transitions lists the states reachable from s.
func (s DiscrepancyStatus) Transitions() []DiscrepancyStatus {
	next := discrepancyTransitions[s]
	out := make([]DiscrepancyStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether the discrepancy may move from s to next.
func (s DiscrepancyStatus) CanTransition(next DiscrepancyStatus) bool {
	for _, to := range discrepancyTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Open reports whether the discrepancy still awaits a decision.
func (s DiscrepancyStatus) Open() bool {
	return s == DiscrepancyStatusDetected || s == DiscrepancyStatusPendingApproval
}

func (c Cycle) transition(next CycleStatus) error {
	if !c.Status.CanTransition(next) {
		return &shared.TransitionError{Entity: "audit_cycle", ID: c.ID, From: string(c.Status), To: string(next)}
	}
	return nil
}

func (c Cycle) require(status CycleStatus, action string) error {
	if c.Status != status {
		return &shared.TransitionError{Entity: "audit_cycle", ID: c.ID, From: string(c.Status), Action: action}
	}
	return nil
}

func (d Discrepancy) transition(next DiscrepancyStatus) error {
	if !d.Status.CanTransition(next) {
		return &shared.TransitionError{Entity: "discrepancy", ID: d.ID, From: string(d.Status), To: string(next)}
	}
	return nil
}
