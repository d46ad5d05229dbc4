package pricing

import "fmt"

const MinGuests = 1

// ValidateGuestCount requires 1 <= guests <= capacity and never clamps.
func ValidateGuestCount(guests, capacity int) error {
	if capacity < MinGuests {
		return &ValidationError{
			Field:   "guests",
			Code:    "NO_CAPACITY",
			Message: "listing does not accept guests",
			Min:     MinGuests,
			Max:     capacity,
		}
	}
	if guests < MinGuests || guests > capacity {
		return &ValidationError{
			Field:   "guests",
			Code:    "GUESTS_OUT_OF_RANGE",
			Message: fmt.Sprintf("guests must be between %d and %d", MinGuests, capacity),
			Min:     MinGuests,
			Max:     capacity,
		}
	}
	return nil
}
