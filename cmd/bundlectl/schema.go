package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yungbote/neuroscout-backend/internal/modules/annotate"
)

func schemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and try out feature annotation schemas",
	}
	cmd.AddCommand(schemaCheckCommand(), schemaAnnotateCommand())
	return cmd
}

func schemaCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <schema.yaml>",
		Short: "Validate a schema and list its extractors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := annotate.LoadSchema(args[0])
			if err != nil {
				return err
			}
			names := make([]string, 0, len(schema))
			for n := range schema {
				names = append(names, n)
			}
			sort.Strings(names)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXTRACTOR\tCANDIDATES\tRULES")
			for _, n := range names {
				rules := 0
				for _, cand := range schema[n] {
					rules += len(cand.Features)
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\n", n, len(schema[n]), rules)
			}
			return tw.Flush()
		},
	}
}

type rowFile struct {
	Onset    *float64       `json:"onset"`
	Duration *float64       `json:"duration"`
	ObjectID *int           `json:"object_id"`
	Values   map[string]any `json:"values"`
}

type annotatedOut struct {
	Feature   string   `json:"feature"`
	Original  string   `json:"original_name"`
	Active    bool     `json:"active"`
	Hash      string   `json:"sha1_hash"`
	Onset     *float64 `json:"onset,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
	ObjectID  *int     `json:"object_id,omitempty"`
	Value     string   `json:"value"`
	Modality  string   `json:"modality,omitempty"`
	Describes string   `json:"description,omitempty"`
}

// schemaAnnotateCommand runs the annotator over extractor rows read from a
// JSON file, so schema changes can be checked without re-running extraction.
func schemaAnnotateCommand() *cobra.Command {
	var (
		info     annotate.ExtractorInfo
		params   string
		rowsPath string
		opts     annotate.Options
		round    int
	)
	cmd := &cobra.Command{
		Use:   "annotate <schema.yaml>",
		Short: "Annotate extractor rows with a schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := annotate.LoadSchema(args[0])
			if err != nil {
				return err
			}
			if params != "" {
				if err := json.Unmarshal([]byte(params), &info.Params); err != nil {
					return fmt.Errorf("--params: %w", err)
				}
			}
			if cmd.Flags().Changed("round") {
				opts.Round = &round
			}
			raw, err := os.ReadFile(rowsPath)
			if err != nil {
				return err
			}
			var in []rowFile
			if err := json.Unmarshal(raw, &in); err != nil {
				return fmt.Errorf("parse rows: %w", err)
			}
			rows := make([]annotate.Row, len(in))
			for i, r := range in {
				rows[i] = annotate.Row{Onset: r.Onset, Duration: r.Duration, ObjectID: r.ObjectID, Values: r.Values}
			}

			annotated, err := annotate.New(schema).Annotate(info, rows, opts)
			if err != nil {
				return err
			}
			out := make([]annotatedOut, len(annotated))
			for i, a := range annotated {
				out[i] = annotatedOut{
					Feature:   a.Feature.FeatureName,
					Original:  a.Feature.OriginalName,
					Active:    a.Feature.Active,
					Hash:      a.Feature.SHA1Hash,
					Onset:     a.Event.Onset,
					Duration:  a.Event.Duration,
					ObjectID:  a.Event.ObjectID,
					Value:     a.Event.Value,
					Modality:  a.Feature.Modality,
					Describes: a.Feature.Description,
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&info.Name, "extractor", "", "Extractor name as used in the schema")
	cmd.Flags().StringVar(&info.Version, "extractor-version", "0.1", "Extractor version")
	cmd.Flags().StringVar(&info.InputType, "input-type", "image", "image, audio, video or text")
	cmd.Flags().StringVar(&params, "params", "", "Extractor parameters as a JSON object")
	cmd.Flags().StringVar(&rowsPath, "rows", "", "JSON array of {onset, duration, object_id, values}")
	cmd.Flags().BoolVar(&opts.Splat, "splat", false, "Expand list values into one feature per element")
	cmd.Flags().IntVar(&round, "round", 0, "Round numeric values to this many decimals")
	_ = cmd.MarkFlagRequired("extractor")
	_ = cmd.MarkFlagRequired("rows")
	return cmd
}
