package cmd

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l7mp/reflow/internal/buildinfo"
)

var (
	verbosity int
	build     buildinfo.BuildInfo
)

var rootCmd = &cobra.Command{
	Use:   "reflow",
	Short: "Reflow - a reactive incremental query engine",
	Long: `Reflow maintains registered queries incrementally over a stream of
fact transactions and pushes result deltas to subscribers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 0,
		"Log verbosity: 0 errors and state changes, 1 control plane, 4 per-delta traces.")
}

// Execute runs the CLI.
func Execute(info buildinfo.BuildInfo) error {
	build = info
	return rootCmd.Execute()
}

// setupLogger builds a development-style zap logger honoring the verbosity
// flag: logr V-levels map to negative zap levels.
func setupLogger() (logr.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	zc.OutputPaths = []string{"stderr"}
	zc.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	z, err := zc.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(z).WithName("reflow"), nil
}
