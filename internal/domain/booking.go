package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/diagnosis/staybook/internal/pricing"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingAccepted  BookingStatus = "accepted"
	BookingConfirmed BookingStatus = "confirmed"
	BookingDeclined  BookingStatus = "declined"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
	BookingDisputed  BookingStatus = "disputed"
)

func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch BookingStatus(s) {
	case BookingPending, BookingAccepted, BookingConfirmed, BookingDeclined,
		BookingCancelled, BookingCompleted, BookingDisputed:
		return BookingStatus(s), true
	default:
		return "", false
	}
}

// Normalize folds the API's two spellings of an accepted booking into one.
func (s BookingStatus) Normalize() BookingStatus {
	if s == BookingConfirmed {
		return BookingAccepted
	}
	return s
}

// Earning reports whether the booking counts towards vendor revenue.
func (s BookingStatus) Earning() bool {
	switch s.Normalize() {
	case BookingAccepted, BookingCompleted:
		return true
	default:
		return false
	}
}

// Booking is the marketplace API's view of a reservation. Dates stay ISO strings
// as they cross the wire; Stay converts them.
type Booking struct {
	ID              string             `json:"id"`
	ListingID       string             `json:"listingId"`
	CustomerID      string             `json:"customerId"`
	VendorID        string             `json:"vendorId,omitempty"`
	StartDate       string             `json:"startDate"`
	EndDate         string             `json:"endDate"`
	Guests          int                `json:"guests"`
	SpecialRequests string             `json:"specialRequests,omitempty"`
	TotalPrice      int64              `json:"totalPrice"`
	Currency        string             `json:"currency,omitempty"`
	PriceBreakdown  *pricing.Breakdown `json:"priceBreakdown,omitempty"`
	Status          BookingStatus      `json:"status"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
	Listing         *Listing           `json:"listing,omitempty"`
}

func (b Booking) Stay() (pricing.StayRange, error) {
	return pricing.ParseStayRange(b.StartDate, b.EndDate)
}

// Total prefers the API's figure and falls back to the breakdown sent at creation.
func (b Booking) Total() int64 {
	if b.TotalPrice == 0 && b.PriceBreakdown != nil {
		return b.PriceBreakdown.TotalAmount
	}
	return b.TotalPrice
}

type CreateBookingRequest struct {
	ListingID       string             `json:"listingId"`
	StartDate       string             `json:"startDate"`
	EndDate         string             `json:"endDate"`
	Guests          int                `json:"guests"`
	SpecialRequests string             `json:"specialRequests,omitempty"`
	PriceBreakdown  *pricing.Breakdown `json:"priceBreakdown,omitempty"`
	TotalPrice      int64              `json:"totalPrice,omitempty"`
}

// TransitionRequest carries the optional reason for decline and cancel.
type TransitionRequest struct {
	Reason string `json:"reason,omitempty"`
}

type PageParams struct {
	Page  int `url:"page,omitempty"`
	Limit int `url:"limit,omitempty"`
}

type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// UnmarshalJSON also accepts a bare array, which unpaginated endpoints return.
func (p *Page[T]) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*p = Page[T]{Items: items, Total: len(items)}
		return nil
	}
	var out struct {
		Items []T `json:"items"`
		Total int `json:"total"`
		Page  int `json:"page"`
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = Page[T]{Items: out.Items, Total: out.Total, Page: out.Page, Limit: out.Limit}
	return nil
}
