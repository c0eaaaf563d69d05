package growthapi

import (
	"slices"

	"github.com/upnest/growthsync/convergence"
)

// Derived field names. Each raw measurement has a percentile of the same name.
const (
	FieldWeight            = "weight"
	FieldHeight            = "height"
	FieldHeadCircumference = "headCircumference"
)

// DerivedFields lists every field the server derives a percentile for.
var DerivedFields = []string{FieldWeight, FieldHeight, FieldHeadCircumference}

// Values holds raw measurements or percentiles keyed by field name.
//
// Values are kept as decoded JSON (numbers, strings or nil) so that
// locale-formatted strings survive until they are normalized.
type Values map[string]any

// Has reports whether field holds a usable numeric value.
func (v Values) Has(field string) bool {
	_, ok := convergence.Normalize(v[field])
	return ok
}

// Present returns the derived fields that hold a usable value, in
// [DerivedFields] order.
func (v Values) Present() []string {
	fields := make([]string, 0, len(DerivedFields))
	for _, f := range DerivedFields {
		if v.Has(f) {
			fields = append(fields, f)
		}
	}
	return fields
}

// Measurement is one growth data record. UpdatedAt is the version marker the
// server moves when recomputed percentiles change.
type Measurement struct {
	DataID          string `json:"dataId"`
	BabyID          string `json:"babyId"`
	MeasurementDate string `json:"measurementDate"`
	Measurements    Values `json:"measurements"`
	Percentiles     Values `json:"percentiles"`
	UpdatedAt       string `json:"updatedAt"`
	Notes           string `json:"notes,omitempty"`
}

// DerivableFields returns the derived fields the server is expected to
// produce for m: one per raw measurement present on the record.
func (m Measurement) DerivableFields() []string {
	return m.Measurements.Present()
}

// Baby is a baby profile. The birth measurements are mirrored into the growth
// data record BirthDataID.
type Baby struct {
	BabyID            string   `json:"babyId"`
	Name              string   `json:"name"`
	DateOfBirth       string   `json:"dateOfBirth"`
	Gender            string   `json:"gender"`
	BirthDataID       string   `json:"birthDataId,omitempty"`
	BirthWeight       *float64 `json:"birthWeight,omitempty"`
	BirthHeight       *float64 `json:"birthHeight,omitempty"`
	HeadCircumference *float64 `json:"headCircumference,omitempty"`
}

// MeasurementPatch is the body of a measurement update. Nil fields are left
// unchanged; Measurements is merged into the stored raw values.
type MeasurementPatch struct {
	MeasurementDate *string `json:"measurementDate,omitempty"`
	Measurements    Values  `json:"measurements,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p MeasurementPatch) Empty() bool {
	return p.MeasurementDate == nil && len(p.Measurements) == 0 && p.Notes == nil
}

// ExpectedFields returns the derived fields a write of p is expected to
// change on current. A date change affects every derivable field; otherwise
// only fields whose raw value the patch sets are affected.
func (p MeasurementPatch) ExpectedFields(current Measurement) []string {
	if p.MeasurementDate != nil && *p.MeasurementDate != current.MeasurementDate {
		merged := Values{}
		for k, v := range current.Measurements {
			merged[k] = v
		}
		for k, v := range p.Measurements {
			merged[k] = v
		}
		return merged.Present()
	}

	fields := make([]string, 0, len(p.Measurements))
	for _, f := range DerivedFields {
		if _, ok := p.Measurements[f]; ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// RecalcMode is the recomputation the server performed for a baby patch.
type RecalcMode string

const (
	// ModeFull recomputes every measurement of the baby.
	ModeFull RecalcMode = "full"

	// ModeBirthOnly recomputes the birth measurement only.
	ModeBirthOnly RecalcMode = "birth-only"

	// ModeNone skips recomputation.
	ModeNone RecalcMode = "none"
)

// Recalculation states reported for a measurement update.
const (
	RecalculationPending = "pending"
	RecalculationNone    = "none"
)

// BabyPatch is the body of a baby profile patch. Nil fields are left unchanged.
type BabyPatch struct {
	Name              *string  `json:"name,omitempty"`
	DateOfBirth       *string  `json:"dateOfBirth,omitempty"`
	Gender            *string  `json:"gender,omitempty"`
	BirthWeight       *float64 `json:"birthWeight,omitempty"`
	BirthHeight       *float64 `json:"birthHeight,omitempty"`
	HeadCircumference *float64 `json:"headCircumference,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p BabyPatch) Empty() bool {
	return p.Name == nil && p.DateOfBirth == nil && p.Gender == nil &&
		p.BirthWeight == nil && p.BirthHeight == nil && p.HeadCircumference == nil
}

// PredictedMode returns the recomputation the server is expected to run for
// p applied to current. The server's reported mode is authoritative.
func (p BabyPatch) PredictedMode(current Baby) RecalcMode {
	if (p.DateOfBirth != nil && *p.DateOfBirth != current.DateOfBirth) ||
		(p.Gender != nil && *p.Gender != current.Gender) {
		return ModeFull
	}
	if len(p.BirthFields(current)) > 0 {
		return ModeBirthOnly
	}
	return ModeNone
}

// BirthFields returns the derived fields whose birth measurement p changes.
func (p BabyPatch) BirthFields(current Baby) []string {
	var fields []string
	if changed(p.BirthWeight, current.BirthWeight) {
		fields = append(fields, FieldWeight)
	}
	if changed(p.BirthHeight, current.BirthHeight) {
		fields = append(fields, FieldHeight)
	}
	if changed(p.HeadCircumference, current.HeadCircumference) {
		fields = append(fields, FieldHeadCircumference)
	}
	return slices.Clip(fields)
}

func changed(next, prev *float64) bool {
	if next == nil {
		return false
	}
	return prev == nil || *next != *prev
}

// MeasurementUpdate is the response to a measurement update.
type MeasurementUpdate struct {
	Data Measurement `json:"data"`

	// Recalculation is "pending" when the write triggered recomputation.
	Recalculation string `json:"recalculation"`
}

// Pending reports whether recomputation was triggered.
func (u MeasurementUpdate) Pending() bool {
	return u.Recalculation == RecalculationPending
}

// BabyUpdate is the response to a baby profile patch.
type BabyUpdate struct {
	Baby Baby       `json:"baby"`
	Mode RecalcMode `json:"mode"`

	// Measurements optionally carries the records with the percentiles the
	// server computed, before they are persisted.
	Measurements []Measurement `json:"measurements,omitempty"`
}
