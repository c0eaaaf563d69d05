package growthapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestMeasurementPatch_ExpectedFields(t *testing.T) {
	t.Parallel()

	current := Measurement{
		MeasurementDate: "2024-03-01",
		Measurements:    Values{FieldWeight: 4200.0, FieldHeight: 55.0},
	}

	cases := []struct {
		name  string
		patch MeasurementPatch
		want  []string
	}{
		{
			name:  "single raw value",
			patch: MeasurementPatch{Measurements: Values{FieldWeight: 4300.0}},
			want:  []string{FieldWeight},
		},
		{
			name:  "notes only",
			patch: MeasurementPatch{Notes: ptr("hello")},
			want:  []string{},
		},
		{
			name:  "date change affects every present field",
			patch: MeasurementPatch{MeasurementDate: ptr("2024-03-02"), Measurements: Values{FieldHeadCircumference: 38.0}},
			want:  []string{FieldWeight, FieldHeight, FieldHeadCircumference},
		},
		{
			name:  "same date is not a change",
			patch: MeasurementPatch{MeasurementDate: ptr("2024-03-01")},
			want:  []string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.patch.ExpectedFields(current))
		})
	}
}

func TestBabyPatch_PredictedMode(t *testing.T) {
	t.Parallel()

	current := Baby{DateOfBirth: "2024-01-01", Gender: "male", BirthWeight: ptr(3400.0)}

	assert.Equal(t, ModeFull, BabyPatch{DateOfBirth: ptr("2024-01-02")}.PredictedMode(current))
	assert.Equal(t, ModeFull, BabyPatch{Gender: ptr("female")}.PredictedMode(current))
	assert.Equal(t, ModeBirthOnly, BabyPatch{BirthWeight: ptr(3500.0)}.PredictedMode(current))
	assert.Equal(t, ModeBirthOnly, BabyPatch{BirthHeight: ptr(50.0)}.PredictedMode(current))
	assert.Equal(t, ModeNone, BabyPatch{BirthWeight: ptr(3400.0)}.PredictedMode(current))
	assert.Equal(t, ModeNone, BabyPatch{Name: ptr("Ada")}.PredictedMode(current))
	assert.Equal(t, ModeNone, BabyPatch{Gender: ptr("male")}.PredictedMode(current))

	assert.True(t, BabyPatch{}.Empty())
	assert.False(t, BabyPatch{Name: ptr("Ada")}.Empty())
}
