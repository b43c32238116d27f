// Package paging holds the offset pagination shared by listings.
package paging

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page selects a slice of a time-ordered listing.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
