package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/build"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/config"
	"github.com/steamok/usmapctl/internal/iostreams"
)

// MockHelper implements cmd.Helper for verb tests. Each method calls its
// Mock func when set and otherwise falls back to a harmless default: text
// output, a discarding logger, buffer-backed streams, a dev build and no
// configuration.
type MockHelper struct {
	GetCmdMock          func() *cobra.Command
	GetArgsMock         func() []string
	GetStreamsMock      func() *iostreams.IOStreams
	GetConfigMock       func() (config.Hook, error)
	GetOutputFormatMock func() (common.OutputFormat, error)
	GetLoggerMock       func() (*slog.Logger, error)
	GetBuildInfoMock    func() (*build.Info, error)
	GetContextMock      func() context.Context

	streams *iostreams.IOStreams
}

func (m *MockHelper) GetCmd() *cobra.Command {
	if m.GetCmdMock != nil {
		return m.GetCmdMock()
	}
	return &cobra.Command{Use: "mock"}
}

func (m *MockHelper) GetArgs() []string {
	if m.GetArgsMock != nil {
		return m.GetArgsMock()
	}
	return nil
}

// GetStreams returns the same buffer-backed streams on every call when no
// mock is set.
func (m *MockHelper) GetStreams() *iostreams.IOStreams {
	if m.GetStreamsMock != nil {
		return m.GetStreamsMock()
	}
	if m.streams == nil {
		s := iostreams.NewTestIOStreamsOnly()
		m.streams = &s
	}
	return m.streams
}

func (m *MockHelper) GetConfig() (config.Hook, error) {
	if m.GetConfigMock != nil {
		return m.GetConfigMock()
	}
	return nil, errors.New("mock helper has no configuration")
}

func (m *MockHelper) GetOutputFormat() (common.OutputFormat, error) {
	if m.GetOutputFormatMock != nil {
		return m.GetOutputFormatMock()
	}
	return common.TEXT, nil
}

func (m *MockHelper) GetLogger() (*slog.Logger, error) {
	if m.GetLoggerMock != nil {
		return m.GetLoggerMock()
	}
	return slog.New(slog.DiscardHandler), nil
}

func (m *MockHelper) GetBuildInfo() (*build.Info, error) {
	if m.GetBuildInfoMock != nil {
		return m.GetBuildInfoMock()
	}
	return &build.Info{Version: "dev"}, nil
}

func (m *MockHelper) GetContext() context.Context {
	if m.GetContextMock != nil {
		return m.GetContextMock()
	}
	return context.Background()
}
