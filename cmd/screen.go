package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/config"
	"github.com/spigell/cvstore/internal/positions"
	"github.com/spigell/cvstore/internal/scoring"
	"github.com/spigell/cvstore/internal/scoring/gemini"
	"github.com/spigell/cvstore/internal/screening"
	"github.com/spigell/cvstore/internal/secrets"
)

var screenCmd = &cobra.Command{
	Use:   "screen <position> <resume.txt>...",
	Short: "Score plain-text resumes against a position and store the results",
	Long: "Every file is one candidate. Candidates already stored for the position are skipped.\n" +
		"With ai.enabled the resumes are scored by Gemini; otherwise --score records a manual score.",
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		d := setup(ctx)
		defer d.finish()

		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		email, _ := flags.GetString("email")
		files := args[1:]
		if (name != "" || email != "") && len(files) > 1 {
			d.logger.Fatal("--name and --email need exactly one resume file")
		}

		scorer, err := newScorer(ctx, cmd, d.config, d.logger)
		if err != nil {
			d.logger.Fatal("preparing the scorer", zap.Error(err))
		}

		svc := positions.New(d.store, d.loader, d.positions, d.logger)
		position, err := svc.Get(ctx, args[0])
		if err != nil {
			fatalPosition(d, "resolving position", args[0], err)
		}
		if !position.Active() {
			d.logger.Warn("screening for a pooled position", zap.String("position", position.Name))
		}

		candidates := make([]screening.Candidate, 0, len(files))
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				d.logger.Fatal("reading resume", zap.String("file", file), zap.Error(err))
			}
			abs, err := filepath.Abs(file)
			if err != nil {
				abs = file
			}
			candidates = append(candidates, screening.Candidate{
				Name:       name,
				Email:      email,
				Text:       string(data),
				ResumeLink: abs,
			})
		}

		pipeline := screening.New(d.store, d.loader, d.results, scorer, d.logger)
		report, err := pipeline.Run(ctx, position, candidates)
		if err != nil {
			d.logger.Fatal("screening", zap.String("position", position.Name), zap.Error(err))
		}

		for _, f := range report.Failures {
			d.logger.Warn("not screened", zap.String("candidate", f.Candidate), zap.Error(f.Err))
		}
		fields := []zap.Field{
			zap.String("position", report.Position),
			zap.Int("scored", report.Scored),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", len(report.Failures)),
		}
		if report.Outcome != nil {
			fields = append(fields, zap.String("path", report.Outcome.Path), zap.Int("added", report.Outcome.Added()))
		}
		d.logger.Info("screening saved", fields...)
	},
}

func init() {
	rootCmd.AddCommand(screenCmd)

	screenCmd.Flags().String("name", "", "candidate name; extracted from the resume when empty")
	screenCmd.Flags().String("email", "", "candidate email")
	screenCmd.Flags().Int("score", -1, "manual match score 0-100, used when ai is disabled")
	screenCmd.Flags().String("summary", "", "manual summary, used with --score")
}

func newScorer(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) (scoring.Scorer, error) {
	if !cfg.AI.Enabled {
		score, _ := cmd.Flags().GetInt("score")
		if score < 0 || score > 100 {
			return nil, errors.New("ai is disabled: enable ai.enabled or pass --score between 0 and 100")
		}
		summary, _ := cmd.Flags().GetString("summary")
		return scoring.Static{Result: scoring.Result{Score: score, Summary: strings.TrimSpace(summary)}}, nil
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.AI.Gemini.APIKey,
		File:  cfg.AI.Gemini.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.AI.Gemini.Model, cfg.AI.Gemini.MaxRetries, logger)
	if err != nil {
		return nil, err
	}

	scorerLogger := logger.With(
		zap.String("provider", "gemini"),
		zap.String("model", generator.Model()),
	)
	return gemini.NewScorer(generator, scorerLogger, cfg.AI.Language, cfg.AI.Gemini.MaxLogLength), nil
}
