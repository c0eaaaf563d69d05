package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/upnest/growthsync"
)

var measurementCmd = &cobra.Command{
	Use:   "measurement",
	Short: "Manage growth measurements",
}

var measurementUpdateCmd = &cobra.Command{
	Use:   "update <dataId>",
	Short: "Update a measurement and wait for its percentiles",
	Long: `Update a growth measurement and wait until the server has recomputed
its percentiles.

Only the given flags are changed. Changing a value or the date triggers a
recomputation; notes alone do not.

Exit codes:
  0 - saved (and confirmed, or not yet confirmed after the retry budget)
  1 - the write failed, or convergence checks kept failing

Example:
  growthsync measurement update 3f2a --weight 4200 -c config.yaml
  growthsync measurement update 3f2a --date 2024-03-02 -c config.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runMeasurementUpdate,
}

func init() {
	f := measurementUpdateCmd.Flags()
	f.Float64("weight", 0, "weight in grams")
	f.Float64("height", 0, "height in cm")
	f.Float64("head", 0, "head circumference in cm")
	f.String("date", "", "measurement date (YYYY-MM-DD)")
	f.String("notes", "", "free-form notes")

	measurementCmd.AddCommand(measurementUpdateCmd)
	rootCmd.AddCommand(measurementCmd)
}

func runMeasurementUpdate(cmd *cobra.Command, args []string) error {
	patch, err := measurementPatch(cmd)
	if err != nil {
		return err
	}
	dataID := args[0]

	return runWrite(cmd, func(ctx context.Context, s *growthsync.Syncer) (growthsync.Outcome, error) {
		return s.UpdateMeasurement(ctx, dataID, patch)
	})
}

// measurementPatch builds a patch from the flags that were set.
func measurementPatch(cmd *cobra.Command) (growthsync.MeasurementPatch, error) {
	f := cmd.Flags()
	var patch growthsync.MeasurementPatch

	values := growthsync.Values{}
	for flag, field := range map[string]string{
		"weight": growthsync.FieldWeight,
		"height": growthsync.FieldHeight,
		"head":   growthsync.FieldHeadCircumference,
	} {
		if !f.Changed(flag) {
			continue
		}
		v, err := f.GetFloat64(flag)
		if err != nil {
			return patch, err
		}
		values[field] = v
	}
	if len(values) > 0 {
		patch.Measurements = values
	}

	if f.Changed("date") {
		date, _ := f.GetString("date")
		if err := validateDate(date); err != nil {
			return patch, err
		}
		patch.MeasurementDate = &date
	}
	if f.Changed("notes") {
		notes, _ := f.GetString("notes")
		patch.Notes = &notes
	}

	if patch.Empty() {
		return patch, errNoChanges
	}
	return patch, nil
}
