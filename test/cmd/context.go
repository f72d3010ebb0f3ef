package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/steamok/usmapctl/internal/build"
	"github.com/steamok/usmapctl/internal/config"
	"github.com/steamok/usmapctl/internal/iostreams"
	"github.com/steamok/usmapctl/internal/log"
	"github.com/stretchr/testify/require"
)

// NewConfig writes body as the config file in a temp dir and loads the
// default profile from it.
func NewConfig(t *testing.T, body string) *config.ProfiledConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if body != "" {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	cfg, err := config.GetConfig(path, config.DefaultProfile, path)
	require.NoError(t, err)
	return cfg
}

// NewContext carries what the root command would put in a command context.
func NewContext(t *testing.T, cfg config.Hook, streams *iostreams.IOStreams) context.Context {
	t.Helper()
	ctx := context.WithValue(t.Context(), config.ConfigKey, cfg)
	ctx = context.WithValue(ctx, iostreams.StreamsKey, streams)
	ctx = context.WithValue(ctx, build.InfoKey, &build.Info{Version: "dev"})
	return context.WithValue(ctx, log.LoggerKey, slog.New(slog.DiscardHandler))
}
