package availability

import (
	"fmt"
	"time"

	"parking/internal/types"
)

// startSlack is how far in the past a window may start and still be accepted.
const startSlack = 5 * time.Minute

// Window is a booking interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Rules are the booking constraints shared by search and reservation creation.
type Rules struct {
	Location         *time.Location
	MaxDurationHours int
	PaymentHoldTTL   time.Duration
}

// NewWindow validates a requested start and duration against now: the start
// must fall on today's calendar day in the lot's timezone and duration must
// be a whole number of hours in [1, MaxDurationHours].
func (r Rules) NewWindow(start time.Time, durationHours int, now time.Time) (Window, error) {
	if start.IsZero() {
		return Window{}, types.NewAppError(types.ErrCodeValidationMissingField, "start is required", nil)
	}
	maxHours := r.MaxDurationHours
	if maxHours <= 0 || maxHours > 24 {
		maxHours = 24
	}
	if durationHours < 1 || durationHours > maxHours {
		return Window{}, types.NewAppErrorWithDetails(types.ErrCodeValidationDuration,
			fmt.Sprintf("duration must be between 1 and %d hours", maxHours), nil,
			map[string]any{"duration": durationHours})
	}

	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	if !types.SameDay(start, now, loc) {
		return Window{}, types.NewAppErrorWithDetails(types.ErrCodeValidationStartDay,
			"reservations can only start today", nil,
			map[string]any{"start": start.In(loc).Format(time.RFC3339), "today": now.In(loc).Format(time.DateOnly)})
	}
	if start.Before(now.Add(-startSlack)) {
		return Window{}, types.NewAppError(types.ErrCodeValidationStartPast, "start must not be in the past", nil)
	}

	start = start.UTC()
	return Window{Start: start, End: start.Add(time.Duration(durationHours) * time.Hour)}, nil
}

// HoldSince is the creation cutoff after which a pendiente_pago reservation
// still blocks its window.
func (r Rules) HoldSince(now time.Time) time.Time {
	return now.Add(-r.PaymentHoldTTL)
}
