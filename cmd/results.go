package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/loader"
	"github.com/spigell/cvstore/internal/results"
	"github.com/spigell/cvstore/internal/schema"
	"github.com/spigell/cvstore/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Read and edit candidate screening results",
}

var resultsLoadCmd = &cobra.Command{
	Use:   "load [position]",
	Short: "Print the results of one position, or of every position, as CSV",
	Args:  cobra.MaximumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ctx := context.Background()
		d := setup(ctx)
		defer d.finish()

		var rows schema.Rows
		if len(args) == 1 {
			var err error
			rows, err = d.loader.LoadOne(ctx, d.results, args[0])
			if err != nil {
				d.logger.Fatal("loading results", zap.String("position", args[0]), zap.Error(err))
			}
		} else {
			res, err := d.loader.LoadAll(ctx, d.results)
			if err != nil {
				d.logger.Fatal("loading results", zap.Error(err))
			}
			reportFailures(d.logger, res)
			rows = res.Rows
		}

		writeCSV(d, d.results, rows)
	},
}

var resultsAppendCmd = &cobra.Command{
	Use:   "append <position> <file.csv>",
	Short: "Append candidates from a CSV file; already stored candidates are skipped",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		ctx := context.Background()
		d := setup(ctx)
		defer d.finish()

		rows := readCSV(d, d.results, args[1], args[0])
		out, err := d.store.Append(ctx, d.results, args[0], rows)
		if err != nil {
			d.logger.Fatal("appending results", zap.String("position", args[0]), zap.Error(err))
		}
		d.loader.InvalidateKey(d.results, args[0])

		d.logger.Info("results appended",
			zap.String("position", args[0]),
			zap.String("path", out.Path),
			zap.Int("offered", len(rows)),
			zap.Int("added", out.Added()),
			zap.Bool("unchanged", out.Unchanged))
	},
}

var resultsReplaceCmd = &cobra.Command{
	Use:   "replace <position> <file.csv>",
	Short: "Overwrite the results of a position with a CSV file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		d := setup(ctx)
		defer d.finish()

		rows := readCSV(d, d.results, args[1], args[0])
		if err := confirm(cmd, fmt.Sprintf("Overwrite every stored result of %q with %d rows?", args[0], len(rows))); err != nil {
			d.logger.Info("exiting", zap.String("reason", err.Error()))
			return
		}

		out, err := d.store.Replace(ctx, d.results, args[0], rows)
		if err != nil {
			d.logger.Fatal("replacing results", zap.String("position", args[0]), zap.Error(err))
		}
		d.loader.InvalidateKey(d.results, args[0])

		d.logger.Info("results replaced",
			zap.String("position", args[0]),
			zap.String("path", out.Path),
			zap.Int("before", out.Before),
			zap.Int("after", out.After))
	},
}

var resultsSetCmd = &cobra.Command{
	Use:   "set <position> <candidate>",
	Short: "Update the status, feedback or shortlist flag of a candidate",
	Long: "The candidate is referenced by email, by name or by its full identity key.\n" +
		"Only the given flags are changed.",
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		d := setup(ctx)
		defer d.finish()

		editor := results.NewEditor(d.store, d.loader, d.results, d.logger)
		position, ref := args[0], args[1]
		flags := cmd.Flags()

		var change results.StatusChange
		if flags.Changed("status") {
			v, _ := flags.GetString("status")
			status, err := parseCandidateStatus(v)
			if err != nil {
				d.logger.Fatal("parsing --status", zap.Error(err))
			}
			change.Candidate = &status
		}
		if flags.Changed("interview") {
			v, _ := flags.GetString("interview")
			status, err := parseInterviewStatus(v)
			if err != nil {
				d.logger.Fatal("parsing --interview", zap.Error(err))
			}
			change.Interview = &status
		}
		if flags.Changed("reason") {
			v, _ := flags.GetString("reason")
			change.Reason = &v
		}

		edits := 0
		if change.Candidate != nil || change.Interview != nil || change.Reason != nil {
			edits++
			out, err := editor.SetStatus(ctx, position, ref, change)
			report(d, "status", out, err)
		}
		if flags.Changed("feedback") {
			edits++
			v, _ := flags.GetString("feedback")
			out, err := editor.SetFeedback(ctx, position, ref, v)
			report(d, "feedback", out, err)
		}
		if flags.Changed("shortlist") {
			edits++
			v, _ := flags.GetBool("shortlist")
			out, err := editor.SetShortlist(ctx, position, ref, v)
			report(d, "shortlist", out, err)
		}

		if edits == 0 {
			d.logger.Fatal("nothing to change", zap.String("hint", "pass --status, --interview, --reason, --feedback or --shortlist"))
		}
	},
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsLoadCmd, resultsAppendCmd, resultsReplaceCmd, resultsSetCmd)

	resultsReplaceCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	resultsSetCmd.Flags().String("status", "", "screening status: OK, Rejected or empty to clear")
	resultsSetCmd.Flags().String("interview", "", "interview status: Passed, Rejected or empty to clear")
	resultsSetCmd.Flags().String("reason", "", "rejection reason")
	resultsSetCmd.Flags().String("feedback", "", "recruiter feedback")
	resultsSetCmd.Flags().Bool("shortlist", false, "mark the candidate as shortlisted")
}

// report logs the outcome of a single edit; a failed edit is fatal.
func report(d *deps, field string, out *store.Outcome, err error) {
	if err != nil {
		fields := []zap.Field{zap.String("field", field), zap.Error(err)}
		if errors.Is(err, store.ErrValidation) {
			fields = append(fields, zap.String("hint", "check the position name and candidate reference"))
		}
		d.logger.Fatal("updating candidate", fields...)
	}
	d.logger.Info("candidate field saved",
		zap.String("field", field),
		zap.String("path", out.Path),
		zap.Bool("unchanged", out.Unchanged))
}

func parseCandidateStatus(v string) (schema.CandidateStatus, error) {
	status := schema.ParseCandidateStatus(v)
	if status == schema.CandidateUnset && strings.TrimSpace(v) != "" {
		return "", fmt.Errorf("unknown candidate status %q", v)
	}
	return status, nil
}

func parseInterviewStatus(v string) (schema.InterviewStatus, error) {
	status := schema.ParseInterviewStatus(v)
	if status == schema.InterviewUnset && strings.TrimSpace(v) != "" {
		return "", fmt.Errorf("unknown interview status %q", v)
	}
	return status, nil
}

// readCSV decodes file with the columns of coll. Rows of a partitioned
// collection that do not name a partition are assigned to partitionKey.
func readCSV(d *deps, coll *schema.Collection, file, partitionKey string) schema.Rows {
	data, err := os.ReadFile(file)
	if err != nil {
		d.logger.Fatal("reading input", zap.String("file", file), zap.Error(err))
	}

	rows, err := coll.Decode(data)
	if err != nil {
		d.logger.Fatal("parsing input", zap.String("file", file), zap.Error(err))
	}

	if coll.PartitionColumn != "" {
		for _, row := range rows {
			if strings.TrimSpace(row[coll.PartitionColumn]) == "" {
				row[coll.PartitionColumn] = partitionKey
			}
		}
	}
	return rows
}

func writeCSV(d *deps, coll *schema.Collection, rows schema.Rows) {
	data, err := coll.Encode(rows)
	if err != nil {
		d.logger.Fatal("encoding output", zap.Error(err))
	}
	if _, err := os.Stdout.Write(data); err != nil {
		d.logger.Fatal("writing output", zap.Error(err))
	}
}

func reportFailures(logger *zap.Logger, res *loader.Result) {
	for _, f := range res.Failures {
		logger.Warn("shard not included", zap.String("shard", f.Shard), zap.String("kind", f.Kind), zap.Error(f.Err))
	}
	logger.Info("loaded",
		zap.String("source", res.Source),
		zap.Int("shards", res.Shards),
		zap.Int("rows", len(res.Rows)),
		zap.Bool("complete", res.Complete()))
}
