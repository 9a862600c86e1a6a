package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name" validate:"required"`
	Kind  string `json:"kind" validate:"oneof=a b"`
	Count int    `json:"count" validate:"gte=0,lte=10"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name       string
		in         sample
		wantFields map[string]string
	}{
		{
			name: "valid",
			in:   sample{Name: "x", Kind: "a", Count: 3},
		},
		{
			name:       "missing name",
			in:         sample{Kind: "b"},
			wantFields: map[string]string{"name": "is required"},
		},
		{
			name: "several errors use json names",
			in:   sample{Name: "x", Kind: "z", Count: 11},
			wantFields: map[string]string{
				"kind":  "must be one of: a b",
				"count": "must be less than or equal to 10",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if tt.wantFields == nil {
				require.NoError(t, err)
				return
			}
			var verr *Error
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantFields, verr.Fields)
		})
	}
}

func TestErrorAccumulation(t *testing.T) {
	var e Error
	assert.True(t, e.Empty())
	assert.NoError(t, e.OrNil())

	e.Add("max_price", "must be greater than or equal to min_price")
	e.Add("max_price", "ignored")
	e.Add("location", "is required")

	require.Error(t, e.OrNil())
	assert.Equal(t,
		"field 'location' is required; field 'max_price' must be greater than or equal to min_price",
		e.Error())
}
