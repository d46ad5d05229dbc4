package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/staybook/internal/pricing"
)

var (
	ErrWrongListing = errors.New("range belongs to a different listing")
	ErrUnavailable  = errors.New("selected dates are not available")
)

// BlockedRange is a vendor-blocked [Start, End) span of a listing.
// Identity is (ListingID, Start, End); Reason is informational.
type BlockedRange struct {
	ID        string    `json:"id,omitempty"`
	ListingID string    `json:"listingId"`
	Start     time.Time `json:"startDate"`
	End       time.Time `json:"endDate"`
	Reason    string    `json:"reason,omitempty"`
}

func (b BlockedRange) Stay() pricing.StayRange {
	return pricing.NewStayRange(b.Start, b.End)
}

func (b BlockedRange) Key() Key {
	return Key{Start: pricing.DateOnly(b.Start), End: pricing.DateOnly(b.End)}
}

// Key addresses ledger entries for unblocking. A key with a zero End matches any
// entry that starts or ends on Start, which is how single dates are unblocked.
type Key struct {
	Start time.Time
	End   time.Time
}

func DateKey(d time.Time) Key { return Key{Start: pricing.DateOnly(d)} }

func RangeKey(r pricing.StayRange) Key {
	return Key{Start: pricing.DateOnly(r.Start), End: pricing.DateOnly(r.End)}
}

func (k Key) matches(b BlockedRange) bool {
	bk := b.Key()
	if k.End.IsZero() {
		return bk.Start.Equal(k.Start) || bk.End.Equal(k.Start)
	}
	return bk.Start.Equal(k.Start) && bk.End.Equal(k.End)
}

// Ledger is one listing's set of blocked ranges. Entry order carries no meaning.
// With Dedupe off, blocking the same range twice records it twice.
type Ledger struct {
	ListingID string         `json:"listingId"`
	Entries   []BlockedRange `json:"entries"`
	Dedupe    bool           `json:"-"`
}

func NewLedger(listingID string, dedupe bool) *Ledger {
	return &Ledger{ListingID: listingID, Dedupe: dedupe}
}

// Block validates the range and appends it. Overlapping entries are not merged.
// It reports whether a new entry was recorded.
func (l *Ledger) Block(listingID string, r pricing.StayRange, reason string) (bool, error) {
	if listingID != l.ListingID {
		return false, fmt.Errorf("block %s on ledger %s: %w", listingID, l.ListingID, ErrWrongListing)
	}
	if err := r.Validate(); err != nil {
		return false, err
	}
	entry := BlockedRange{
		ListingID: listingID,
		Start:     pricing.DateOnly(r.Start),
		End:       pricing.DateOnly(r.End),
		Reason:    reason,
	}
	if l.Dedupe {
		k := RangeKey(r)
		for _, e := range l.Entries {
			if k.matches(e) {
				return false, nil
			}
		}
	}
	l.Entries = append(l.Entries, entry)
	return true, nil
}

// Unblock removes every entry matching key and returns how many were removed.
// A key that matches nothing is not an error.
func (l *Ledger) Unblock(listingID string, key Key) (int, error) {
	if listingID != l.ListingID {
		return 0, fmt.Errorf("unblock %s on ledger %s: %w", listingID, l.ListingID, ErrWrongListing)
	}
	kept := l.Entries[:0]
	removed := 0
	for _, e := range l.Entries {
		if key.matches(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.Entries = kept
	return removed, nil
}

// IsRangeBookable checks r against every entry, duplicates and overlaps included.
func (l *Ledger) IsRangeBookable(listingID string, r pricing.StayRange) bool {
	if listingID != l.ListingID {
		return true
	}
	return len(l.Conflicts(r)) == 0
}

// Conflicts lists the entries r overlaps under [start, end) semantics.
func (l *Ledger) Conflicts(r pricing.StayRange) []BlockedRange {
	var out []BlockedRange
	for _, e := range l.Entries {
		if e.Stay().Overlaps(r) {
			out = append(out, e)
		}
	}
	return out
}

func (l *Ledger) Clone() *Ledger {
	c := &Ledger{ListingID: l.ListingID, Dedupe: l.Dedupe}
	c.Entries = append([]BlockedRange(nil), l.Entries...)
	return c
}
