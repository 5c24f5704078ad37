package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/neuroscout-backend/internal/data/repos"
	"github.com/yungbote/neuroscout-backend/internal/modules/bundle"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
)

func eventsCommand(c *cli) *cobra.Command {
	var (
		runs         []string
		withStimulus bool
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "events <predictor_id>...",
		Short: "Print materialized predictor events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			predIDs, err := parseUUIDs(args)
			if err != nil {
				return err
			}
			runIDs, err := parseUUIDs(runs)
			if err != nil {
				return err
			}
			gdb, closeDB, err := c.openDB(c)
			if err != nil {
				return err
			}
			defer closeDB()

			events, err := materialize.New(repos.NewEventStore(gdb, c.log)).Materialize(
				dbctx.New(commandContext(cmd)), predIDs,
				materialize.Options{RunIDs: runIDs, IncludeStimulusTiming: withStimulus},
			)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			fmt.Fprintln(w, "onset\tduration\tvalue\trun_id\tpredictor_id")
			for _, ev := range events {
				dur := "n/a"
				if ev.Duration != nil {
					dur = bundle.FormatFloat(*ev.Duration)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", bundle.FormatFloat(ev.Onset), dur, ev.Value, ev.RunID, ev.PredictorID)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&runs, "run", nil, "Only these run ids")
	cmd.Flags().BoolVar(&withStimulus, "stimulus", false, "Include stimulus timing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of TSV")
	return cmd
}
