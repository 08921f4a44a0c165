package annotation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Role names of the two distinguished classes.
const (
	RoleContainer = "microgel"
	RoleContained = "cell"
)

// Fallback class ids used when no class carries a role name.
const (
	DefaultContainerID = 0
	DefaultContainedID = 1
)

// ClassMap maps class ids to class names.
//
// The JSON form accepts an object keyed by ids written as strings or numbers
// ({"0": "microgel", "1.0": "cell"}) or a plain array of names whose index is
// the id. Entries whose key is not an integer are skipped.
type ClassMap map[int]string

// UnmarshalJSON decodes either the object or the array form.
func (m *ClassMap) UnmarshalJSON(data []byte) error {
	out := ClassMap{}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*m = out
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var names []json.RawMessage
		if err := json.Unmarshal(data, &names); err != nil {
			return fmt.Errorf("class map: %w", err)
		}
		for i, raw := range names {
			if name, ok := nameFromJSON(raw); ok {
				out[i] = name
			}
		}
		*m = out
		return nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("class map: %w", err)
	}
	for key, raw := range entries {
		id, ok := ParseClassID(key)
		if !ok {
			continue
		}
		if name, ok := nameFromJSON(raw); ok {
			out[id] = name
		}
	}
	*m = out
	return nil
}

// ParseClassID parses an id written as an integer or an integral float.
func ParseClassID(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if id, err := strconv.Atoi(s); err == nil {
		return id, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func nameFromJSON(raw json.RawMessage) (string, bool) {
	if strings.TrimSpace(string(raw)) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// IDs returns the class ids in iteration order (ascending).
func (m ClassMap) IDs() []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Lookup returns the name for id and whether it is present.
func (m ClassMap) Lookup(id int) (string, bool) {
	name, ok := m[id]
	return name, ok
}

// Name returns the name for id, or fallback when id is unknown.
func (m ClassMap) Name(id int, fallback string) string {
	if name, ok := m[id]; ok {
		return name
	}
	return fallback
}

// Nth returns the id at position n (0-based) in iteration order.
func (m ClassMap) Nth(n int) (int, bool) {
	ids := m.IDs()
	if n < 0 || n >= len(ids) {
		return 0, false
	}
	return ids[n], true
}

// Merge copies every entry of other into m.
func (m ClassMap) Merge(other ClassMap) {
	for id, name := range other {
		m[id] = name
	}
}

// Roles holds the resolved ids of the container and contained classes.
type Roles struct {
	Container int `json:"microgel"`
	Contained int `json:"cell"`
}

// ResolveRoles finds the container and contained class ids.
//
// Step one matches class names case-insensitively against RoleContainer and
// RoleContained. Step two falls back to DefaultContainerID and
// DefaultContainedID for any role no class is named after. When several ids
// share a role name the highest id wins.
func ResolveRoles(m ClassMap) Roles {
	roles := Roles{Container: DefaultContainerID, Contained: DefaultContainedID}
	for _, id := range m.IDs() {
		switch strings.ToLower(strings.TrimSpace(m[id])) {
		case RoleContainer:
			roles.Container = id
		case RoleContained:
			roles.Contained = id
		}
	}
	return roles
}

// ResolveClassNames fills every region's ClassName from the class map. A
// region whose id is not in the map keeps the name it already has.
func ResolveClassNames(it *ImageItem, m ClassMap) {
	for i := range it.Regions {
		r := &it.Regions[i]
		r.ClassName = m.Name(r.ClassID, r.ClassName)
	}
}
