package convergence

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{name: "nil", in: nil},
		{name: "float", in: 52.3, want: 52.3, ok: true},
		{name: "int", in: 3, want: 3, ok: true},
		{name: "json number", in: json.Number("12.5"), want: 12.5, ok: true},
		{name: "dot string", in: "3.20", want: 3.2, ok: true},
		{name: "comma string", in: "3,20", want: 3.2, ok: true},
		{name: "percent suffix", in: "52,3 %", want: 52.3, ok: true},
		{name: "unit suffix", in: " 4200g ", want: 4200, ok: true},
		{name: "negative", in: "-1.5", want: -1.5, ok: true},
		{name: "thousands comma", in: "1,234.5", want: 1234.5, ok: true},
		{name: "thousands dot", in: "1.234,5", want: 1234.5, ok: true},
		{name: "empty string", in: ""},
		{name: "blank string", in: "   "},
		{name: "garbage", in: "n/a"},
		{name: "only suffix", in: "%"},
		{name: "lone separator", in: ","},
		{name: "bool", in: true},
		{name: "NaN", in: math.NaN()},
		{name: "infinity", in: math.Inf(1)},
		{name: "struct", in: struct{ X int }{1}},
		{name: "nil pointer", in: (*float64)(nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Normalize(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}
