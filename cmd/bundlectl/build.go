package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/neuroscout-backend/internal/data/repos"
	"github.com/yungbote/neuroscout-backend/internal/modules/bundle"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

// buildCommand writes a bundle tarball for an analysis without touching its
// compile state.
func buildCommand(c *cli) *cobra.Command {
	var (
		outDir string
		runs   []string
		keep   bool
	)
	cmd := &cobra.Command{
		Use:   "build <hash_id>",
		Short: "Build an analysis bundle locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runIDs, err := parseUUIDs(runs)
			if err != nil {
				return err
			}
			gdb, closeDB, err := c.openDB(c)
			if err != nil {
				return err
			}
			defer closeDB()

			dbc := dbctx.New(commandContext(cmd))
			analyses := services.NewAnalysisService(gdb, c.log,
				repos.NewAnalysisRepo(gdb, c.log), repos.NewDatasetRepo(gdb, c.log), nil, nil)
			_, snap, err := analyses.LoadSnapshot(dbc, args[0])
			if err != nil {
				return err
			}
			events, err := materialize.New(repos.NewEventStore(gdb, c.log)).
				Materialize(dbc, snap.PredictorIDs(), materialize.Options{RunIDs: runIDs, Scope: snap.RunIDs()})
			if err != nil {
				return bundle.Wrap(bundle.PhaseBuilding, err)
			}
			res, err := bundle.Build(snap, events, runIDs, "")
			if err != nil {
				return err
			}
			if !keep {
				defer res.Cleanup()
			}

			dest := filepath.Join(outDir, snap.HashID+".tar.gz")
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			if err := bundle.WriteTarball(res.Manifest, dest); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d files\t%d events\n", dest, len(res.Manifest), len(events))
			if keep {
				fmt.Fprintf(cmd.OutOrStdout(), "tree kept at %s\n", res.Dir)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory receiving <hash_id>.tar.gz")
	cmd.Flags().StringSliceVar(&runs, "run", nil, "Restrict the bundle to these run ids")
	cmd.Flags().BoolVar(&keep, "keep-tree", false, "Keep the unpacked bundle directory")
	return cmd
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
