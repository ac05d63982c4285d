package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/config"
	"github.com/spigell/cvstore/internal/schema"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Backend = config.BackendMemory
	return cfg
}

func TestNewDepsMemoryBackend(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Layout.ResultsPrefix = "screening"

	d, err := newDeps(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer d.close()

	require.Equal(t, "screening", d.results.Prefix)
	require.Equal(t, "", d.positions.Prefix)

	rows := schema.Rows{{schema.ColCandidateName: "Ann", schema.ColJobPosition: "Go Dev"}}
	out, err := d.store.Append(ctx, d.results, "Go Dev", rows)
	require.NoError(t, err)
	require.Equal(t, "screening/results_Go_Dev.csv", out.Path)

	loaded, err := d.loader.LoadOne(ctx, d.results, "Go Dev")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "Ann", loaded[0][schema.ColCandidateName])
}

func TestNewDepsGitHubNeedsToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	cfg := config.Default()
	cfg.GitHub.Repo = "acme/hiring"

	_, err := newDeps(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "github token")
}

func TestResolveTokenFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("secret\n"), 0o600))

	cfg := config.Default()
	cfg.GitHub.TokenFile = path
	cfg.GitHub.Token = "ignored"

	token, err := resolveToken(cfg)
	require.NoError(t, err)
	require.Equal(t, "secret", token)
}

func TestParseStatuses(t *testing.T) {
	tests := []struct {
		in      string
		want    schema.CandidateStatus
		wantErr bool
	}{
		{in: "ok", want: schema.CandidateOK},
		{in: "Rejected", want: schema.CandidateRejected},
		{in: "", want: schema.CandidateUnset},
		{in: "maybe", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseCandidateStatus(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%q: expected an error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%q: got %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}

	if _, err := parseInterviewStatus("passed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := parseInterviewStatus("soon"); err == nil {
		t.Fatal("expected an error for an unknown interview status")
	}
}
