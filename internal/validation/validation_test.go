package validation

import (
	"strings"
	"testing"
)

func TestTextChecks(t *testing.T) {
	tests := []struct {
		name    string
		check   func() *ValidationError
		wantErr bool
	}{
		{"utf8 ok", func() *ValidationError { return ValidateUTF8("f", "Hello, 世界") }, false},
		{"utf8 invalid", func() *ValidationError { return ValidateUTF8("f", string([]byte{0xff, 0xfe})) }, true},
		{"nul free", func() *ValidationError { return ValidateNoNullBytes("f", "plain") }, false},
		{"nul present", func() *ValidationError { return ValidateNoNullBytes("f", "a\x00b") }, true},
		{"length at limit", func() *ValidationError { return ValidateMaxLength("f", strings.Repeat("🧘", 10), 10) }, false},
		{"length exceeded", func() *ValidationError { return ValidateMaxLength("f", strings.Repeat("a", 11), 10) }, true},
		{"required", func() *ValidationError { return ValidateRequired("f", "x") }, false},
		{"required blank", func() *ValidationError { return ValidateRequired("f", "  \t") }, true},
		{"clock time", func() *ValidationError { return ValidateClockTime("f", "23:59") }, false},
		{"clock time hour", func() *ValidationError { return ValidateClockTime("f", "24:00") }, true},
		{"clock time short", func() *ValidationError { return ValidateClockTime("f", "9:30") }, true},
		{"date", func() *ValidationError { return ValidateDate("f", "2024-02-29") }, false},
		{"date impossible", func() *ValidationError { return ValidateDate("f", "2023-02-29") }, true},
		{"integer", func() *ValidationError { return ValidateInteger("f", 20) }, false},
		{"fraction", func() *ValidationError { return ValidateInteger("f", 20.5) }, true},
		{"range min", func() *ValidationError { return ValidateRange("f", 1, 1, 50) }, false},
		{"range above", func() *ValidationError { return ValidateRange("f", 51, 1, 50) }, true},
		{"enum", func() *ValidationError { return ValidateEnum("f", "Monday", DaysOfWeek) }, false},
		{"enum case", func() *ValidationError { return ValidateEnum("f", "monday", DaysOfWeek) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check()
			if (err != nil) != tt.wantErr {
				t.Errorf("got %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && err.Field != "f" {
				t.Errorf("error.Field = %q, want %q", err.Field, "f")
			}
		})
	}
}

func TestCollector(t *testing.T) {
	c := &Collector{}
	if c.HasErrors() {
		t.Fatal("HasErrors() = true, want false for empty collector")
	}

	c.Add(nil)
	c.Add(&ValidationError{Field: "f1", Message: "m1"})
	c.Add(nil)
	c.Add(&ValidationError{Field: "f2", Message: "m2"})

	errs := c.Errors()
	if len(errs) != 2 {
		t.Fatalf("len(Errors()) = %d, want 2", len(errs))
	}
	if errs[0].Field != "f1" || errs[1].Field != "f2" {
		t.Errorf("Errors() = %+v, want insertion order", errs)
	}
}

func TestValidatePayload_Classes(t *testing.T) {
	tests := []struct {
		name       string
		payload    map[string]any
		wantFields []string
	}{
		{
			name: "complete class",
			payload: map[string]any{
				"dayOfWeek": "Monday", "courseTime": "09:30", "capacity": 20.0,
				"duration": 60.0, "pricePerClass": 12.5, "classType": "Aerial Yoga",
			},
		},
		{
			// Partial payloads only validate what they carry.
			name:    "name only",
			payload: map[string]any{"name": "Vinyasa"},
		},
		{
			name:       "capacity too large",
			payload:    map[string]any{"capacity": 51.0},
			wantFields: []string{"capacity"},
		},
		{
			name:       "fractional capacity",
			payload:    map[string]any{"capacity": 2.5},
			wantFields: []string{"capacity"},
		},
		{
			name:       "fractional duration",
			payload:    map[string]any{"duration": 45.5},
			wantFields: []string{"duration"},
		},
		{
			name:       "free class allowed, over 100 not",
			payload:    map[string]any{"pricePerClass": 101.0},
			wantFields: []string{"pricePerClass"},
		},
		{
			name:       "unknown class type",
			payload:    map[string]any{"classType": "Hot Yoga"},
			wantFields: []string{"classType"},
		},
		{
			name:       "time is a string",
			payload:    map[string]any{"courseTime": 930.0},
			wantFields: []string{"courseTime"},
		},
		{
			name:       "nested nul byte",
			payload:    map[string]any{"meta": map[string]any{"note": "a\x00"}},
			wantFields: []string{"meta.note"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidatePayload("classes", tt.payload)
			if len(errs) != len(tt.wantFields) {
				t.Fatalf("ValidatePayload() = %+v, want fields %v", errs, tt.wantFields)
			}
			for i, f := range tt.wantFields {
				if errs[i].Field != f {
					t.Errorf("errs[%d].Field = %q, want %q", i, errs[i].Field, f)
				}
			}
		})
	}
}

func TestValidatePayload_OtherCollections(t *testing.T) {
	if errs := ValidatePayload("bookings", map[string]any{"classId": "101", "date": "2024-06-01"}); errs != nil {
		t.Errorf("valid booking: %+v", errs)
	}
	if errs := ValidatePayload("bookings", map[string]any{"date": "01/06/2024"}); len(errs) != 1 {
		t.Errorf("bad booking date: %+v", errs)
	}
	if errs := ValidatePayload("instructors", map[string]any{"name": " "}); len(errs) != 1 {
		t.Errorf("blank instructor name: %+v", errs)
	}
	if errs := ValidatePayload("rooms", map[string]any{}); len(errs) != 1 || errs[0].Field != "collection" {
		t.Errorf("unknown collection: %+v", errs)
	}
}
