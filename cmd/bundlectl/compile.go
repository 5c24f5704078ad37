package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/neuroscout-backend/internal/data/repos"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/jobs/pipeline/analysis_compile"
	jobrt "github.com/yungbote/neuroscout-backend/internal/jobs/runtime"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/platform/ctxutil"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

// compileCommand runs the compile job in-process, moving the analysis through
// PENDING to PASSED or FAILED exactly as a worker would.
func compileCommand(c *cli) *cobra.Command {
	var bundleDir string
	cmd := &cobra.Command{
		Use:   "compile <hash_id>",
		Short: "Compile an analysis synchronously against the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, closeDB, err := c.openDB(c)
			if err != nil {
				return err
			}
			defer closeDB()

			jobRepo := repos.NewJobRunRepo(gdb, c.log)
			analysisRepo := repos.NewAnalysisRepo(gdb, c.log)
			jobs := services.NewJobService(gdb, c.log, jobRepo, nil, nil, "")
			analyses := services.NewAnalysisService(gdb, c.log, analysisRepo, repos.NewDatasetRepo(gdb, c.log), jobs, nil)

			ctx := commandContext(cmd)
			a, err := analyses.Get(dbctx.New(ctx), args[0])
			if err != nil {
				return err
			}
			subject := a.Owner
			if subject == "" {
				subject = "bundlectl"
			}
			ctx = ctxutil.WithSubject(ctx, subject)
			_, job, err := analyses.RequestCompile(dbctx.New(ctx), a.HashID)
			if err != nil {
				return err
			}
			now := time.Now()
			if err := jobRepo.UpdateFields(dbctx.New(ctx), job.ID, map[string]interface{}{
				"status":       types.JobStatusRunning,
				"attempts":     job.Attempts + 1,
				"locked_at":    now,
				"heartbeat_at": now,
			}); err != nil {
				return err
			}
			job.Status = types.JobStatusRunning

			reg := jobrt.NewRegistry()
			pipeline := analysis_compile.New(c.log, analyses, materialize.New(repos.NewEventStore(gdb, c.log)), nil, nil,
				analysis_compile.Config{BundleDir: bundleDir})
			if err := reg.Register(pipeline); err != nil {
				return err
			}
			jobrt.Execute(jobrt.NewContext(ctx, gdb, job, jobRepo, nil), reg, c.log, nil)

			done, err := analyses.Get(dbctx.New(ctx), a.HashID)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if done.Status != types.AnalysisPassed {
				fmt.Fprintf(w, "%s\t%s\n%s\n", done.HashID, done.Status, done.CompileTraceback)
				return fmt.Errorf("compile of %s did not pass", done.HashID)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", done.HashID, done.Status, done.BundlePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&bundleDir, "bundle-dir", "bundles", "Directory receiving <hash_id>.tar.gz")
	return cmd
}
