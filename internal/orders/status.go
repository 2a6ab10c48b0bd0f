package orders

import "github.com/kota727/bookstore/internal/apperr"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = map[Status]bool{
	StatusPending:    true,
	StatusProcessing: true,
	StatusShipped:    true,
	StatusDelivered:  true,
	StatusCancelled:  true,
}

// ParseStatus validates a caller-supplied status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !allStatuses[st] {
		return "", apperr.InvalidInput("unknown status: %q", s)
	}
	return st, nil
}

// Cancellable reports whether an order in this status may still be
// cancelled. Only pending orders qualify; cancelled is terminal.
func (s Status) Cancellable() bool { return s == StatusPending }

// AdminAssignable reports whether an admin may set this status through a
// plain status update. Cancellation goes through Cancel so the stock is
// restored; every other enumerated status is accepted with no sequencing,
// matching the admin dashboard behavior.
func (s Status) AdminAssignable() bool { return allStatuses[s] && s != StatusCancelled }
