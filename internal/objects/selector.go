package objects

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Predicate selects objects.
type Predicate func(*Object) bool

// And returns a predicate matching objects accepted by every predicate.
func And(preds ...Predicate) Predicate {
	return func(o *Object) bool {
		for _, p := range preds {
			if p != nil && !p(o) {
				return false
			}
		}
		return true
	}
}

// Any matches every object.
func Any(*Object) bool { return true }

// ObjectType is the closed set of object populations a density map can be
// computed over.
type ObjectType int

const (
	Detections ObjectType = iota
	Cells
	PointAnnotations
	AllObjects
)

var objectTypeNames = []string{"detections", "cells", "point_annotations", "all"}

func (t ObjectType) String() string {
	if t < 0 || int(t) >= len(objectTypeNames) {
		return fmt.Sprintf("object_type(%d)", int(t))
	}
	return objectTypeNames[t]
}

// Valid reports whether t is one of the declared object types.
func (t ObjectType) Valid() bool {
	return t >= Detections && t <= AllObjects
}

// Selector returns the predicate for the object population.
func (t ObjectType) Selector() Predicate {
	switch t {
	case Detections:
		return func(o *Object) bool { return o.Kind.IsDetection() }
	case Cells:
		return func(o *Object) bool { return o.Kind == KindCell }
	case PointAnnotations:
		return func(o *Object) bool { return o.Kind == KindAnnotation && o.IsPoint() }
	case AllObjects:
		return Any
	}
	return func(*Object) bool { return false }
}

// ParseObjectType converts a name such as "cells" to an ObjectType.
func ParseObjectType(s string) (ObjectType, error) {
	for i, name := range objectTypeNames {
		if strings.EqualFold(s, name) {
			return ObjectType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown object type %q", s)
}

func (t ObjectType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *ObjectType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseObjectType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Match is the closed set of ways a ClassFilter compares classifications.
type Match int

const (
	// MatchExact requires the full classification to be equal.
	MatchExact Match = iota
	// MatchBase compares the first component only ("Tumor" matches "Tumor: Positive").
	MatchBase
	// MatchComponent accepts a classification containing the name as any component.
	MatchComponent
	// MatchAnyPositive accepts classifications whose last component is an
	// intensity class: Positive, 1+, 2+ or 3+. Name restricts the base when set.
	MatchAnyPositive
)

var matchNames = []string{"exact", "base", "component", "any_positive"}

func (m Match) String() string {
	if m < 0 || int(m) >= len(matchNames) {
		return fmt.Sprintf("match(%d)", int(m))
	}
	return matchNames[m]
}

func (m Match) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Match) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for i, name := range matchNames {
		if strings.EqualFold(s, name) {
			*m = Match(i)
			return nil
		}
	}
	return fmt.Errorf("unknown class match %q", s)
}

// ClassFilter selects objects by classification.
type ClassFilter struct {
	Name  string `json:"name"`
	Match Match  `json:"match"`
}

// ClassIs is shorthand for an exact class filter.
func ClassIs(name string) ClassFilter {
	return ClassFilter{Name: name, Match: MatchExact}
}

// Valid reports whether the filter uses a declared match mode.
func (f ClassFilter) Valid() bool {
	return f.Match >= MatchExact && f.Match <= MatchAnyPositive
}

// Label is the display name of the filter, used for channel naming.
func (f ClassFilter) Label() string {
	switch {
	case f.Match == MatchAnyPositive && f.Name == "":
		return "Positive"
	case f.Match == MatchAnyPositive:
		return f.Name + ": Positive"
	case f.Name == "":
		return "Unclassified"
	}
	return f.Name
}

// Selector returns the predicate for the filter.
func (f ClassFilter) Selector() Predicate {
	name := strings.TrimSpace(f.Name)
	switch f.Match {
	case MatchExact:
		want := normalizeClass(name)
		return func(o *Object) bool { return normalizeClass(o.Class) == want }
	case MatchBase:
		return func(o *Object) bool {
			parts := ClassComponents(o.Class)
			return len(parts) > 0 && parts[0] == name
		}
	case MatchComponent:
		return func(o *Object) bool {
			for _, c := range ClassComponents(o.Class) {
				if c == name {
					return true
				}
			}
			return false
		}
	case MatchAnyPositive:
		return func(o *Object) bool {
			parts := ClassComponents(o.Class)
			if len(parts) == 0 || !IsPositiveComponent(parts[len(parts)-1]) {
				return false
			}
			return name == "" || (len(parts) > 1 && parts[0] == name)
		}
	}
	return func(*Object) bool { return false }
}

// ClassComponents splits a classification into its trimmed components.
func ClassComponents(class string) []string {
	class = strings.TrimSpace(class)
	if class == "" {
		return nil
	}
	raw := strings.Split(class, ":")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// IsPositiveComponent reports whether a class component names an intensity class.
func IsPositiveComponent(c string) bool {
	switch c {
	case "Positive", "1+", "2+", "3+":
		return true
	}
	return false
}

func normalizeClass(class string) string {
	return strings.Join(ClassComponents(class), ": ")
}
