package bind

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/resumind/resumind/pkg/config"
	"github.com/resumind/resumind/pkg/server"
)

func newServerCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "start"}
	cmd.Flags().String("addr", "127.0.0.1", "")
	cmd.Flags().Int("port", 8080, "")
	cmd.Flags().Bool("no-api", false, "")
	cmd.Flags().Bool("no-stream", false, "")
	cmd.Flags().Bool("no-jobs", false, "")
	cmd.Flags().Int("jobs-concurrency", 4, "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestBindServerOptions_UsesConfigWhenFlagsUnset(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.Port = 9090
	cfg.Concurrency = 8

	opts, err := BindServerOptions(newServerCmd(t), cfg)
	require.NoError(t, err)
	require.Equal(t, 9090, opts.Port)
	require.Equal(t, 8, opts.Concurrency)
	require.False(t, opts.NoAPI)
}

func TestBindServerOptions_FlagsOverride(t *testing.T) {
	opts, err := BindServerOptions(newServerCmd(t, "--port", "7000", "--no-stream", "--jobs-concurrency", "2", "--addr", "0.0.0.0"),
		config.DefaultServerConfig())
	require.NoError(t, err)
	require.Equal(t, ServerOptions{Addr: "0.0.0.0", Port: 7000, NoStream: true, Concurrency: 2}, opts)

	applied := opts.Apply(config.DefaultServerConfig())
	require.False(t, applied.StreamEnabled)
	require.True(t, applied.APIEnabled)
	require.Equal(t, 7000, applied.Port)
}

func TestBindServerOptions_Validation(t *testing.T) {
	cfg := config.DefaultServerConfig()

	_, err := BindServerOptions(newServerCmd(t, "--port", "0"), cfg)
	require.ErrorIs(t, err, server.ErrInvalidPort)

	_, err = BindServerOptions(newServerCmd(t, "--jobs-concurrency", "0"), cfg)
	require.ErrorIs(t, err, server.ErrInvalidConcurrency)

	// Concurrency is irrelevant without workers.
	_, err = BindServerOptions(newServerCmd(t, "--jobs-concurrency", "0", "--no-jobs"), cfg)
	require.NoError(t, err)

	_, err = BindServerOptions(newServerCmd(t, "--no-api", "--no-stream", "--no-jobs"), cfg)
	require.ErrorIs(t, err, server.ErrFeaturesDisabled)
}

func TestBindWorkerConcurrency(t *testing.T) {
	cmd := &cobra.Command{Use: "start"}
	cmd.Flags().Int("concurrency", 4, "")

	n, err := BindWorkerConcurrency(cmd, 6)
	require.NoError(t, err)
	require.Equal(t, 6, n)

	require.NoError(t, cmd.Flags().Set("concurrency", "-1"))
	_, err = BindWorkerConcurrency(cmd, 6)
	require.ErrorIs(t, err, server.ErrInvalidConcurrency)
}
