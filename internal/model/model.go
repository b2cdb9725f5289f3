// Package model defines the domain types used across the application.
package model

import "time"

// Item is a single news entry ingested from the source site.
type Item struct {
	ID            int64
	ExternalID    int64
	Title         string
	SourceLink    string
	Body          string
	PublishedDate time.Time
	CreatedAt     time.Time
}

// Category is a topic tag used for subscription matching.
type Category string

// Supported categories. CategoryAll is a subscription sentinel and is never
// assigned to an item.
const (
	CategoryPower Category = "power"
	CategoryWater Category = "water"
	CategoryOther Category = "other"
	CategoryAll   Category = "all"
)

// Categories lists the concrete item categories in menu order.
var Categories = []Category{CategoryPower, CategoryWater, CategoryOther}

// ParseCategory validates a category tag, including the all sentinel.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryPower, CategoryWater, CategoryOther, CategoryAll:
		return c, true
	}
	return "", false
}

// Subscriber is a Telegram chat that receives notifications.
type Subscriber struct {
	RecipientID    int64
	Categories     []Category
	Address        string
	Latitude       *float64
	Longitude      *float64
	AddressPending bool
	CreatedAt      time.Time
}

// Wants reports whether the subscriber should receive items of category c.
func (s *Subscriber) Wants(c Category) bool {
	for _, sc := range s.Categories {
		if sc == c || sc == CategoryAll {
			return true
		}
	}
	return false
}

// Has reports whether c is literally present in the subscriber's set.
func (s *Subscriber) Has(c Category) bool {
	for _, sc := range s.Categories {
		if sc == c {
			return true
		}
	}
	return false
}

// ToggleCategory flips c in the subscriber's set and reports whether it is
// now enabled. Toggling CategoryAll selects or clears everything; disabling a
// concrete category drops the all sentinel, and enabling the last missing one
// adds it.
func (s *Subscriber) ToggleCategory(c Category) bool {
	if c == CategoryAll {
		if s.Has(CategoryAll) {
			s.Categories = nil
			return false
		}
		s.Categories = append(append([]Category(nil), Categories...), CategoryAll)
		return true
	}

	if s.Has(c) {
		kept := s.Categories[:0]
		for _, sc := range s.Categories {
			if sc != c && sc != CategoryAll {
				kept = append(kept, sc)
			}
		}
		s.Categories = kept
		return false
	}

	s.Categories = append(s.Categories, c)
	for _, cc := range Categories {
		if !s.Has(cc) {
			return true
		}
	}
	if !s.Has(CategoryAll) {
		s.Categories = append(s.Categories, CategoryAll)
	}
	return true
}

// SetAddress stores a free-text address and clears any coordinates.
func (s *Subscriber) SetAddress(address string) {
	s.Address = address
	s.Latitude = nil
	s.Longitude = nil
	s.AddressPending = false
}

// SetLocation stores an address derived from coordinates.
func (s *Subscriber) SetLocation(address string, lat, lon float64) {
	s.Address = address
	s.Latitude = &lat
	s.Longitude = &lon
	s.AddressPending = false
}

// ReactionKind is one of the fixed reaction types.
type ReactionKind string

// Supported reaction kinds.
const (
	ReactionLike  ReactionKind = "like"
	ReactionLove  ReactionKind = "love"
	ReactionSad   ReactionKind = "sad"
	ReactionAngry ReactionKind = "angry"
)

// ReactionKinds lists the reaction kinds in button order.
var ReactionKinds = []ReactionKind{ReactionLike, ReactionLove, ReactionSad, ReactionAngry}

// Emoji returns the button glyph for the reaction kind.
func (k ReactionKind) Emoji() string {
	switch k {
	case ReactionLike:
		return "👍"
	case ReactionLove:
		return "❤️"
	case ReactionSad:
		return "😢"
	case ReactionAngry:
		return "😡"
	}
	return "?"
}

// Valid reports whether k is one of the known kinds.
func (k ReactionKind) Valid() bool {
	for _, kk := range ReactionKinds {
		if k == kk {
			return true
		}
	}
	return false
}

// Reaction is a recipient's current reaction to an item.
type Reaction struct {
	ItemID      int64
	RecipientID int64
	Kind        ReactionKind
	CreatedAt   time.Time
}

// ReactionSummary is the rendered state of an item's reaction controls for
// one viewer.
type ReactionSummary struct {
	ItemID int64
	Counts map[ReactionKind]int
	Mine   ReactionKind
}
