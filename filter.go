package nostr

import (
	"errors"
	"slices"
)

// TagMap holds tag filters keyed by tag name (without the "#" prefix used on
// the wire).
type TagMap map[string][]string

type Filters []Filter

// Filter is a relay query descriptor as defined in NIP-01.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Tags    TagMap
	Since   *Timestamp
	Until   *Timestamp
	Limit   int
}

var (
	ErrFilterNoSelectors = errors.New("filter has no ids, authors, kinds or tag selectors")
	ErrFilterBadLimit    = errors.New("filter limit must be positive")
)

// Validate checks that the filter selects something and carries a positive
// limit. Until is defaulted to the current time when unset.
func (f *Filter) Validate() error {
	if len(f.IDs) == 0 && len(f.Authors) == 0 && len(f.Kinds) == 0 && len(f.Tags) == 0 {
		return ErrFilterNoSelectors
	}
	if f.Limit <= 0 {
		return ErrFilterBadLimit
	}
	if f.Until == nil {
		now := Now()
		f.Until = &now
	}
	return nil
}

// Matches reports whether the event satisfies every constraint of the filter.
func (f Filter) Matches(event *Event) bool {
	if event == nil {
		return false
	}

	if f.IDs != nil && !slices.Contains(f.IDs, event.ID) {
		return false
	}

	if f.Kinds != nil && !slices.Contains(f.Kinds, event.Kind) {
		return false
	}

	if f.Authors != nil && !slices.Contains(f.Authors, event.PubKey) {
		return false
	}

	for name, values := range f.Tags {
		if !event.Tags.ContainsAny(name, values) {
			return false
		}
	}

	if f.Since != nil && event.CreatedAt < *f.Since {
		return false
	}

	if f.Until != nil && event.CreatedAt > *f.Until {
		return false
	}

	return true
}

func (fs Filters) Match(event *Event) bool {
	for _, f := range fs {
		if f.Matches(event) {
			return true
		}
	}
	return false
}

// String returns the filter as NIP-01 JSON.
func (f Filter) String() string {
	j, _ := f.MarshalJSON()
	return string(j)
}
