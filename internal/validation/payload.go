package validation

import (
	"github.com/hyperengineering/studiosync/internal/types"
)

// Limits recovered from the studio admin form.
const (
	MinCapacity = 1
	MaxCapacity = 50
	MinDuration = 1
	MaxDuration = 180
	MinPrice    = 0
	MaxPrice    = 100

	MaxTextLength = 1000
)

// DaysOfWeek are the accepted values of a class's dayOfWeek.
var DaysOfWeek = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// ClassTypes are the accepted values of a class's classType.
var ClassTypes = []string{"Flow Yoga", "Aerial Yoga", "Family Yoga"}

// ValidatePayload checks a record payload for the given collection.
// Payloads are partial trees, so rules only apply to fields that are present.
// Returns nil when the payload is acceptable.
func ValidatePayload(c types.Collection, p types.Payload) []ValidationError {
	var v Collector
	validateStrings(&v, "", p)

	switch c {
	case types.CollectionClasses:
		if s, ok := stringField(&v, p, "dayOfWeek"); ok {
			v.Add(ValidateEnum("dayOfWeek", s, DaysOfWeek))
		}
		if s, ok := stringField(&v, p, "courseTime"); ok {
			v.Add(ValidateClockTime("courseTime", s))
		}
		if s, ok := stringField(&v, p, "classType"); ok {
			v.Add(ValidateEnum("classType", s, ClassTypes))
		}
		if n, ok := numberField(&v, p, "capacity"); ok {
			v.Add(ValidateInteger("capacity", n))
			v.Add(ValidateRange("capacity", n, MinCapacity, MaxCapacity))
		}
		if n, ok := numberField(&v, p, "duration"); ok {
			v.Add(ValidateInteger("duration", n))
			v.Add(ValidateRange("duration", n, MinDuration, MaxDuration))
		}
		if n, ok := numberField(&v, p, "pricePerClass"); ok {
			v.Add(ValidateRange("pricePerClass", n, MinPrice, MaxPrice))
		}
	case types.CollectionInstructors:
		if s, ok := stringField(&v, p, "name"); ok {
			v.Add(ValidateRequired("name", s))
		}
	case types.CollectionBookings:
		if s, ok := stringField(&v, p, "date"); ok {
			v.Add(ValidateDate("date", s))
		}
		if s, ok := stringField(&v, p, "classId"); ok {
			v.Add(ValidateRequired("classId", s))
		}
	default:
		v.Add(&ValidationError{Field: "collection", Message: "is not a known collection"})
	}

	if !v.HasErrors() {
		return nil
	}
	return v.Errors()
}

func stringField(v *Collector, p types.Payload, field string) (string, bool) {
	raw, ok := p[field]
	if !ok || raw == nil {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		v.Add(&ValidationError{Field: field, Message: "must be a string"})
		return "", false
	}
	return s, true
}

func numberField(v *Collector, p types.Payload, field string) (float64, bool) {
	raw, ok := p[field]
	if !ok || raw == nil {
		return 0, false
	}
	switch n := raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	v.Add(&ValidationError{Field: field, Message: "must be a number"})
	return 0, false
}

// validateStrings walks the tree and applies the text checks to every string.
func validateStrings(v *Collector, prefix string, value any) {
	switch t := value.(type) {
	case types.Payload:
		validateStrings(v, prefix, map[string]any(t))
	case map[string]any:
		for k, vv := range t {
			validateStrings(v, join(prefix, k), vv)
		}
	case []any:
		for _, vv := range t {
			validateStrings(v, prefix, vv)
		}
	case string:
		v.Add(ValidateUTF8(prefix, t))
		v.Add(ValidateNoNullBytes(prefix, t))
		v.Add(ValidateMaxLength(prefix, t, MaxTextLength))
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
