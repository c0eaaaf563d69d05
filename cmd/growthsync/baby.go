package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/upnest/growthsync"
)

var errNoChanges = errors.New("nothing to update: set at least one field flag")

var babyCmd = &cobra.Command{
	Use:   "baby",
	Short: "Manage baby profiles",
}

var babyUpdateCmd = &cobra.Command{
	Use:   "update <babyId>",
	Short: "Update a baby profile and wait for recomputed percentiles",
	Long: `Update a baby profile and wait for the recomputation it triggers.

Changing the date of birth or gender recomputes every measurement of the
baby. Changing birth values recomputes the birth measurement only. Changing
the name recomputes nothing.

Example:
  growthsync baby update 9c1e --gender female -c config.yaml
  growthsync baby update 9c1e --birth-weight 3450 -c config.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runBabyUpdate,
}

func init() {
	f := babyUpdateCmd.Flags()
	f.String("name", "", "display name")
	f.String("dob", "", "date of birth (YYYY-MM-DD)")
	f.String("gender", "", "gender (male|female)")
	f.Float64("birth-weight", 0, "birth weight in grams")
	f.Float64("birth-height", 0, "birth height in cm")
	f.Float64("birth-head", 0, "birth head circumference in cm")

	babyCmd.AddCommand(babyUpdateCmd)
	rootCmd.AddCommand(babyCmd)
}

func runBabyUpdate(cmd *cobra.Command, args []string) error {
	patch, err := babyPatch(cmd)
	if err != nil {
		return err
	}
	babyID := args[0]

	return runWrite(cmd, func(ctx context.Context, s *growthsync.Syncer) (growthsync.Outcome, error) {
		return s.UpdateBaby(ctx, babyID, patch)
	})
}

// babyPatch builds a patch from the flags that were set.
func babyPatch(cmd *cobra.Command) (growthsync.BabyPatch, error) {
	f := cmd.Flags()
	var patch growthsync.BabyPatch

	if f.Changed("name") {
		name, _ := f.GetString("name")
		patch.Name = &name
	}
	if f.Changed("dob") {
		dob, _ := f.GetString("dob")
		if err := validateDate(dob); err != nil {
			return patch, err
		}
		patch.DateOfBirth = &dob
	}
	if f.Changed("gender") {
		gender, _ := f.GetString("gender")
		if gender != "male" && gender != "female" {
			return patch, fmt.Errorf("gender must be male or female, got %q", gender)
		}
		patch.Gender = &gender
	}

	for flag, dst := range map[string]**float64{
		"birth-weight": &patch.BirthWeight,
		"birth-height": &patch.BirthHeight,
		"birth-head":   &patch.HeadCircumference,
	} {
		if !f.Changed(flag) {
			continue
		}
		v, err := f.GetFloat64(flag)
		if err != nil {
			return patch, err
		}
		*dst = &v
	}

	if patch.Empty() {
		return patch, errNoChanges
	}
	return patch, nil
}

func validateDate(s string) error {
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return nil
}
