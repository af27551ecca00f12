package lifecycle

import (
	"fmt"

	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

// Order statuses across the three kinds. Each kind moves forward through a
// fixed sequence; cancelled is reachable from any non-terminal status.
const (
	StatusDriverAssigned = "driver_assigned"
	StatusDriverArrived  = "driver_arrived"
	StatusInProgress     = "in_progress"
	StatusCompleted      = "completed"

	StatusPickedUp  = "picked_up"
	StatusInTransit = "in_transit"
	StatusDelivered = "delivered"

	StatusPendingPayment = "pending_payment"
	StatusPending        = "pending"
	StatusConfirmed      = "confirmed"
	StatusPreparing      = "preparing"
	StatusReadyForPickup = "ready_for_pickup"

	// StatusRequested is the pre-assignment state of taxi and delivery
	// orders: created, not yet offered to or accepted by a driver.
	StatusRequested = "requested"

	StatusCancelled = "cancelled"
)

// ErrUnknownStatus is returned when a (kind, status) pair has no position in
// the kind's sequence. Unknown statuses are an error, never a guess.
type ErrUnknownStatus struct {
	Kind   models.Kind
	Status string
}

func (e *ErrUnknownStatus) Error() string {
	return fmt.Sprintf("lifecycle: unknown status %q for kind %q", e.Status, e.Kind)
}

var (
	taxiSeq     = []string{StatusDriverAssigned, StatusDriverArrived, StatusInProgress, StatusCompleted}
	deliverySeq = []string{StatusDriverAssigned, StatusPickedUp, StatusInTransit, StatusDelivered}

	marketSeq = []string{
		StatusPendingPayment, StatusPending, StatusConfirmed, StatusPreparing,
		StatusReadyForPickup, StatusInTransit, StatusDelivered, StatusCompleted,
	}
	// Pickup-only marketplace orders skip the transit leg entirely.
	marketPickupSeq = []string{
		StatusPendingPayment, StatusPending, StatusConfirmed, StatusPreparing,
		StatusReadyForPickup, StatusCompleted,
	}
)

// statusAliases maps legacy per-kind spellings onto the canonical sequence.
var statusAliases = map[models.Kind]map[string]string{
	models.KindDelivery: {StatusConfirmed: StatusDriverAssigned},
}

// actionLabels names the driver/customer action that performs the forward
// transition INTO each status.
var actionLabels = map[string]string{
	StatusDriverArrived:  "confirm arrival",
	StatusInProgress:     "start ride",
	StatusCompleted:      "complete",
	StatusPickedUp:       "confirm pickup",
	StatusInTransit:      "start delivery",
	StatusDelivered:      "complete delivery",
	StatusPending:        "confirm payment",
	StatusConfirmed:      "confirm order",
	StatusPreparing:      "start preparing",
	StatusReadyForPickup: "mark ready",
}

// Step is one position in a kind's status sequence.
type Step struct {
	Status    string `json:"status"`
	Completed bool   `json:"completed"`
	Current   bool   `json:"current"`
}

// Sequence returns the ordered status list for a kind.
func Sequence(kind models.Kind, pickupOnly bool) ([]string, error) {
	switch kind {
	case models.KindTaxi:
		return taxiSeq, nil
	case models.KindDelivery:
		return deliverySeq, nil
	case models.KindMarketplace:
		if pickupOnly {
			return marketPickupSeq, nil
		}
		return marketSeq, nil
	}
	return nil, fmt.Errorf("lifecycle: unknown kind %q", kind)
}

func canonical(kind models.Kind, status string) string {
	if m, ok := statusAliases[kind]; ok {
		if c, ok := m[status]; ok {
			return c
		}
	}
	return status
}

func position(kind models.Kind, status string, pickupOnly bool) (seq []string, idx int, err error) {
	seq, err = Sequence(kind, pickupOnly)
	if err != nil {
		return nil, 0, err
	}
	status = canonical(kind, status)
	for i, s := range seq {
		if s == status {
			return seq, i, nil
		}
	}
	return nil, 0, &ErrUnknownStatus{Kind: kind, Status: status}
}

// Steps computes the tracker view: every step before the current status is
// completed, the current one is marked, everything after is pending.
// Cancelled and not-yet-assigned orders report the bare sequence with
// nothing completed and nothing current.
func Steps(kind models.Kind, status string, pickupOnly bool) ([]Step, error) {
	if status == StatusCancelled || status == StatusRequested {
		seq, err := Sequence(kind, pickupOnly)
		if err != nil {
			return nil, err
		}
		out := make([]Step, len(seq))
		for i, s := range seq {
			out[i] = Step{Status: s}
		}
		return out, nil
	}
	seq, idx, err := position(kind, status, pickupOnly)
	if err != nil {
		return nil, err
	}
	out := make([]Step, len(seq))
	for i, s := range seq {
		out[i] = Step{Status: s, Completed: i <= idx, Current: i == idx}
	}
	return out, nil
}

// Next returns the single forward transition from status, with the action
// label a client should render for it. ok is false on a terminal status.
func Next(kind models.Kind, status string, pickupOnly bool) (next, action string, ok bool, err error) {
	// No user action exists on a cancelled order, nor before assignment:
	// the transition into the sequence is driven by dispatch, not a button.
	if status == StatusCancelled || status == StatusRequested {
		return "", "", false, nil
	}
	seq, idx, err := position(kind, status, pickupOnly)
	if err != nil {
		return "", "", false, err
	}
	if idx == len(seq)-1 {
		return "", "", false, nil
	}
	next = seq[idx+1]
	return next, actionLabels[next], true, nil
}

// IsTerminal reports whether status ends the lifecycle for the given kind.
// delivered is terminal for deliveries but not for marketplace orders, which
// still await the customer's completion confirmation.
func IsTerminal(kind models.Kind, status string) bool {
	if status == StatusCancelled {
		return true
	}
	switch kind {
	case models.KindTaxi, models.KindMarketplace:
		return status == StatusCompleted
	case models.KindDelivery:
		return status == StatusDelivered
	}
	return false
}

// CanTransition reports whether from→to is legal: the single forward step,
// or a cancellation from any non-terminal status.
func CanTransition(kind models.Kind, from, to string, pickupOnly bool) bool {
	if to == StatusCancelled {
		return !IsTerminal(kind, from)
	}
	next, _, ok, err := Next(kind, from, pickupOnly)
	if err != nil || !ok {
		return false
	}
	return next == canonical(kind, to)
}

// Assigned returns the status an order enters when a driver accepts its
// offer. Marketplace orders keep whatever stage the merchant has them in.
func Assigned(kind models.Kind) (string, bool) {
	switch kind {
	case models.KindTaxi, models.KindDelivery:
		return StatusDriverAssigned, true
	}
	return "", false
}
