package mockapi

import (
	"math"
	"time"

	"github.com/upnest/growthsync/internal/growthapi"
)

const dateLayout = "2006-01-02"

// growthCurve is a linearized reference curve: median and standard deviation
// grow with age in days.
type growthCurve struct {
	median, medianPerDay float64
	sd, sdPerDay         float64
}

var curves = map[string]map[string]growthCurve{
	"male": {
		growthapi.FieldWeight:            {median: 3350, medianPerDay: 25, sd: 450, sdPerDay: 3},
		growthapi.FieldHeight:            {median: 49.9, medianPerDay: 0.1, sd: 1.9, sdPerDay: 0.004},
		growthapi.FieldHeadCircumference: {median: 34.5, medianPerDay: 0.04, sd: 1.2, sdPerDay: 0.001},
	},
	"female": {
		growthapi.FieldWeight:            {median: 3230, medianPerDay: 23, sd: 440, sdPerDay: 3},
		growthapi.FieldHeight:            {median: 49.1, medianPerDay: 0.095, sd: 1.9, sdPerDay: 0.004},
		growthapi.FieldHeadCircumference: {median: 33.9, medianPerDay: 0.038, sd: 1.2, sdPerDay: 0.001},
	},
}

// computePercentiles returns the percentile of every raw measurement present
// on m, rounded to two decimals. Unknown genders or unparseable dates yield
// no percentiles.
func computePercentiles(baby growthapi.Baby, m growthapi.Measurement) growthapi.Values {
	out := growthapi.Values{}

	curve, ok := curves[baby.Gender]
	if !ok {
		return out
	}
	dob, err := time.Parse(dateLayout, baby.DateOfBirth)
	if err != nil {
		return out
	}
	at, err := time.Parse(dateLayout, m.MeasurementDate)
	if err != nil {
		return out
	}
	days := math.Max(0, at.Sub(dob).Hours()/24)

	for _, field := range m.Measurements.Present() {
		v, _ := toFloat(m.Measurements[field])
		c := curve[field]
		median := c.median + c.medianPerDay*days
		sd := c.sd + c.sdPerDay*days
		z := (v - median) / sd
		out[field] = round2(50 * (1 + math.Erf(z/math.Sqrt2)))
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// samePercentiles compares rounded percentile sets.
func samePercentiles(a, b growthapi.Values) bool {
	for _, field := range growthapi.DerivedFields {
		av, aok := toFloat(a[field])
		bv, bok := toFloat(b[field])
		if aok != bok || (aok && round2(av) != round2(bv)) {
			return false
		}
	}
	return true
}
