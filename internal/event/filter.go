package event

import (
	"encoding/json"
	"strings"
)

// Filter selects events by kind, author, tags, and time window. Tag filters
// marshal as "#<name>" keys the way relays expect them.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Since   int64
	Until   int64
	Limit   int
	Tags    map[string][]string
}

type filterJSON struct {
	IDs     []string `json:"ids,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Until   int64    `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

func (f Filter) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(filterJSON{
		IDs: f.IDs, Kinds: f.Kinds, Authors: f.Authors,
		Since: f.Since, Until: f.Until, Limit: f.Limit,
	})
	if err != nil {
		return nil, err
	}
	if len(f.Tags) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for name, values := range f.Tags {
		raw, err := json.Marshal(values)
		if err != nil {
			return nil, err
		}
		merged["#"+name] = raw
	}
	return json.Marshal(merged)
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	var base filterJSON
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	*f = Filter{
		IDs: base.IDs, Kinds: base.Kinds, Authors: base.Authors,
		Since: base.Since, Until: base.Until, Limit: base.Limit,
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for key, raw := range all {
		if !strings.HasPrefix(key, "#") {
			continue
		}
		var values []string
		if err := json.Unmarshal(raw, &values); err != nil {
			return err
		}
		if f.Tags == nil {
			f.Tags = make(map[string][]string)
		}
		f.Tags[key[1:]] = values
	}
	return nil
}

// Matches reports whether ev satisfies the filter. Used for client-side
// subscription dispatch and by test fakes.
func (f Filter) Matches(ev Event) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, ev.Author) {
		return false
	}
	if f.Since != 0 && ev.CreatedAt < f.Since {
		return false
	}
	if f.Until != 0 && ev.CreatedAt > f.Until {
		return false
	}
	for name, values := range f.Tags {
		if !contains(values, ev.Tag(name)) {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}
