package mockapi

import "github.com/upnest/growthsync/internal/growthapi"

// Demo record IDs created by [Server.SeedDemo].
const (
	DemoBabyID  = "demo-baby"
	DemoBirthID = "demo-birth"
	DemoLaterID = "demo-2m"
)

// SeedDemo stores a baby with a birth measurement and a two-month check-up.
func (s *Server) SeedDemo() {
	w, h, hc := 3300.0, 49.5, 34.0
	s.AddBaby(growthapi.Baby{
		BabyID:            DemoBabyID,
		Name:              "Demo",
		DateOfBirth:       "2024-01-10",
		Gender:            "female",
		BirthDataID:       DemoBirthID,
		BirthWeight:       &w,
		BirthHeight:       &h,
		HeadCircumference: &hc,
	})
	s.AddMeasurement(growthapi.Measurement{
		DataID:          DemoBirthID,
		BabyID:          DemoBabyID,
		MeasurementDate: "2024-01-10",
		Measurements: growthapi.Values{
			growthapi.FieldWeight:            w,
			growthapi.FieldHeight:            h,
			growthapi.FieldHeadCircumference: hc,
		},
	})
	s.AddMeasurement(growthapi.Measurement{
		DataID:          DemoLaterID,
		BabyID:          DemoBabyID,
		MeasurementDate: "2024-03-10",
		Measurements: growthapi.Values{
			growthapi.FieldWeight: 5100.0,
			growthapi.FieldHeight: 57.0,
		},
		Notes: "two-month check-up",
	})
}
