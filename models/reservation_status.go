package models

// ReservationStatus is the lifecycle state of a reservation's payment.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusPaid      ReservationStatus = "paid"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCancelled ReservationStatus = "cancelled"
	StatusCompleted ReservationStatus = "completed"
)

// validTransitions holds the only moves the payment lifecycle permits.
// pending -> paid -> confirmed -> completed, with cancellation allowed
// from pending or paid.
var validTransitions = map[ReservationStatus][]ReservationStatus{
	StatusPending:   {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted},
}

// CanTransition reports whether moving a reservation from one status to
// another is legal. The database performs the same check conditionally,
// this is the first line of defence before a write is attempted.
func CanTransition(from, to ReservationStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ReservationStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}
