package codec

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/studiosync/internal/types"
)

func TestEncodeDecode_YogaClass(t *testing.T) {
	// Given a class as entered in the admin form
	in := types.YogaClass{
		DayOfWeek:     "Monday",
		CourseTime:    "09:30",
		Capacity:      20,
		Duration:      60,
		PricePerClass: 12.5,
		ClassType:     "Flow Yoga",
		Teacher:       "Ana",
	}

	// When it is encoded into a tree
	p, err := Encode(in)
	require.NoError(t, err)

	// Then numbers are float64 and empty fields are omitted
	require.Equal(t, float64(20), p["capacity"])
	require.Equal(t, "Monday", p["dayOfWeek"])
	require.NotContains(t, p, "description")

	// And decoding restores the value
	var out types.YogaClass
	require.NoError(t, Decode(p, &out))
	require.Equal(t, in, out)
}

func TestMarshal_Canonical(t *testing.T) {
	a := types.Payload{"b": 1.0, "a": map[string]any{"y": true, "x": nil}}
	b := types.Payload{"a": map[string]any{"x": nil, "y": true}, "b": 1.0}

	ab, err := Marshal(a)
	require.NoError(t, err)
	bb, err := Marshal(b)
	require.NoError(t, err)

	require.Equal(t, `{"a":{"x":null,"y":true},"b":1}`, string(ab))
	require.Equal(t, ab, bb)
}

func TestUnmarshal(t *testing.T) {
	p, err := Unmarshal([]byte(`{"name":"Vinyasa","tags":["a",2]}`))
	require.NoError(t, err)
	require.Equal(t, types.Payload{"name": "Vinyasa", "tags": []any{"a", float64(2)}}, p)

	p, err = Unmarshal([]byte(" null "))
	require.NoError(t, err)
	require.Nil(t, p)

	_, err = Unmarshal([]byte(`[1,2]`))
	require.True(t, errors.Is(err, ErrMalformed))

	_, err = Unmarshal(nil)
	require.True(t, errors.Is(err, ErrMalformed))
}

func TestEqual(t *testing.T) {
	require.True(t, Equal(types.Payload{"n": 3}, types.Payload{"n": 3.0}))
	require.False(t, Equal(types.Payload{"n": 3}, types.Payload{"n": 4}))
	require.True(t, Equal(nil, nil))
	require.False(t, Equal(nil, types.Payload{}))
}

func TestClone_Deep(t *testing.T) {
	orig := types.Payload{"nested": map[string]any{"list": []any{"a"}}}
	cp := Clone(orig)

	cp["nested"].(map[string]any)["list"].([]any)[0] = "b"

	require.Equal(t, "a", orig["nested"].(map[string]any)["list"].([]any)[0])
	require.Nil(t, Clone(nil))
}

func TestPath(t *testing.T) {
	require.Equal(t, "classes/101", Path(types.CollectionClasses, "101"))

	c, id, err := SplitPath("/bookings/55")
	require.NoError(t, err)
	require.Equal(t, types.CollectionBookings, c)
	require.Equal(t, "55", id)

	for _, bad := range []string{"classes", "classes/", "rooms/1", "classes/1/2"} {
		_, _, err := SplitPath(bad)
		require.Error(t, err, bad)
	}
}
