package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/positions"
	"github.com/spigell/cvstore/internal/schema"
	"github.com/spigell/cvstore/internal/shardname"
	"github.com/spigell/cvstore/internal/store"
)

var positionsCmd = &cobra.Command{
	Use:     "positions",
	Aliases: []string{"pos"},
	Short:   "Manage the job positions catalogue",
}

var positionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print positions as CSV",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		d := setup(ctx)
		defer d.finish()

		svc := positions.New(d.store, d.loader, d.positions, d.logger)

		var (
			list []schema.JobPosition
			err  error
		)
		active, _ := cmd.Flags().GetBool("active")
		pooled, _ := cmd.Flags().GetBool("pooled")
		switch {
		case active && !pooled:
			list, err = svc.Active(ctx)
		case pooled && !active:
			list, err = svc.Pooled(ctx)
		default:
			list, err = svc.List(ctx)
		}
		if err != nil {
			d.logger.Fatal("listing positions", zap.Error(err))
		}

		rows := make(schema.Rows, 0, len(list))
		for _, p := range list {
			rows = append(rows, p.ToRow())
		}
		writeCSV(d, d.positions, rows)
	},
}

var positionsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a job position",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		d := setup(ctx)
		defer d.finish()

		flags := cmd.Flags()
		jobID, _ := flags.GetString("job-id")
		description, _ := flags.GetString("description")
		pooled, _ := flags.GetBool("pooled")

		pos := schema.JobPosition{Name: args[0], JobID: jobID, Description: description, Pooling: schema.PoolingActive}
		if pooled {
			pos.Pooling = schema.PoolingPooled
		}

		svc := positions.New(d.store, d.loader, d.positions, d.logger)
		out, err := svc.Add(ctx, pos)
		positionDone(d, "adding position", args[0], out, err)
	},
}

var positionsUpdateCmd = &cobra.Command{
	Use:   "update <name|job-id>",
	Short: "Rename a position or replace its description",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		d := setup(ctx)
		defer d.finish()

		name, _ := cmd.Flags().GetString("name")
		description, _ := cmd.Flags().GetString("description")
		if name == "" && description == "" {
			d.logger.Fatal("nothing to change", zap.String("hint", "pass --name or --description"))
		}

		svc := positions.New(d.store, d.loader, d.positions, d.logger)
		out, err := svc.Update(ctx, args[0], name, description)
		positionDone(d, "updating position", args[0], out, err)
	},
}

var positionsPoolCmd = &cobra.Command{
	Use:   "pool <name|job-id>",
	Short: "Park a position for later",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		setPooling(args[0], schema.PoolingPooled)
	},
}

var positionsActivateCmd = &cobra.Command{
	Use:   "activate <name|job-id>",
	Short: "Reopen a pooled position",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		setPooling(args[0], schema.PoolingActive)
	},
}

var positionsRemoveCmd = &cobra.Command{
	Use:   "remove <name|job-id>",
	Short: "Delete a position; its results shard is kept",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		d := setup(ctx)
		defer d.finish()

		if err := confirm(cmd, fmt.Sprintf("Remove position %q?", args[0])); err != nil {
			d.logger.Info("exiting", zap.String("reason", err.Error()))
			return
		}

		svc := positions.New(d.store, d.loader, d.positions, d.logger)
		removed, err := svc.Remove(ctx, args[0])
		if err != nil {
			fatalPosition(d, "removing position", args[0], err)
		}
		d.logger.Info("position removed", zap.String("position", args[0]), zap.Int("rows", removed))
	},
}

var positionsConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Report positions whose names clash",
	Long: "Reports active and pooled positions sharing a name under different Job IDs,\n" +
		"and position names that map to the same results shard.",
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()
		d := setup(ctx)
		defer d.finish()

		svc := positions.New(d.store, d.loader, d.positions, d.logger)
		conflicts, err := svc.Conflicts(ctx)
		if err != nil {
			d.logger.Fatal("checking conflicts", zap.Error(err))
		}

		all, err := svc.List(ctx)
		if err != nil {
			d.logger.Fatal("listing positions", zap.Error(err))
		}
		names := make([]string, 0, len(all))
		for _, p := range all {
			names = append(names, p.Name)
		}
		collisions := shardname.Collisions(names)
		for slug, clashing := range collisions {
			d.logger.Warn("positions share a results shard",
				zap.String("shard", shardname.For(d.results.Prefix, d.results.Literal, slug)),
				zap.Strings("positions", clashing))
		}

		d.logger.Info("conflict check finished",
			zap.Int("name_conflicts", len(conflicts)),
			zap.Int("shard_collisions", len(collisions)))
	},
}

func init() {
	rootCmd.AddCommand(positionsCmd)
	positionsCmd.AddCommand(
		positionsListCmd,
		positionsAddCmd,
		positionsUpdateCmd,
		positionsPoolCmd,
		positionsActivateCmd,
		positionsRemoveCmd,
		positionsConflictsCmd,
	)

	positionsListCmd.Flags().Bool("active", false, "only active positions")
	positionsListCmd.Flags().Bool("pooled", false, "only pooled positions")

	positionsAddCmd.Flags().String("job-id", "", "numeric Job ID")
	positionsAddCmd.Flags().String("description", "", "job description used for scoring")
	positionsAddCmd.Flags().Bool("pooled", false, "add the position as pooled")

	positionsUpdateCmd.Flags().String("name", "", "new position name")
	positionsUpdateCmd.Flags().String("description", "", "new job description")

	positionsRemoveCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}

func setPooling(ref string, status schema.PoolingStatus) {
	ctx := context.Background()
	d := setup(ctx)
	defer d.finish()

	svc := positions.New(d.store, d.loader, d.positions, d.logger)
	out, err := svc.SetPooling(ctx, ref, status)
	positionDone(d, "changing pooling status", ref, out, err)
}

func positionDone(d *deps, step, ref string, out *store.Outcome, err error) {
	if err != nil {
		fatalPosition(d, step, ref, err)
	}
	d.logger.Info(step,
		zap.String("position", ref),
		zap.String("path", out.Path),
		zap.Int("attempts", out.Attempts),
		zap.Bool("unchanged", out.Unchanged))
}

func fatalPosition(d *deps, step, ref string, err error) {
	fields := []zap.Field{zap.String("position", ref), zap.Error(err)}
	if positions.IsUserError(err) {
		fields = append(fields, zap.String("hint", "list positions and refer to them by Job ID when names are shared"))
	}
	d.logger.Fatal(step, fields...)
}
