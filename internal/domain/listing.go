package domain

type Location struct {
	Address string `json:"address"`
	City    string `json:"city"`
}

// Listing carries the fields pricing and availability need. StartingPrice is the
// nightly rate in whole currency units.
type Listing struct {
	ID            string   `json:"id"`
	VendorID      string   `json:"vendorId"`
	Title         string   `json:"title"`
	Slug          string   `json:"slug,omitempty"`
	Category      string   `json:"category,omitempty"`
	Capacity      int      `json:"capacity,omitempty"`
	Location      Location `json:"location"`
	StartingPrice int64    `json:"startingPrice"`
	Currency      string   `json:"currency"`
	Status        string   `json:"status,omitempty"`
}
