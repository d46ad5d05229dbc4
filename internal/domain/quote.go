package domain

import (
	"time"

	"github.com/diagnosis/staybook/internal/pricing"
)

// Quote is a priced stay as shown to a guest before booking. Quotes are kept for
// audit; a booking request always re-prices.
type Quote struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId,omitempty"`
	ListingID string            `json:"listingId"`
	StartDate string            `json:"startDate"`
	EndDate   string            `json:"endDate"`
	Guests    int               `json:"guests"`
	Breakdown pricing.Breakdown `json:"priceBreakdown"`
	Currency  string            `json:"currency"`
	Available bool              `json:"available"`
	IssuedAt  time.Time         `json:"issuedAt"`
}
