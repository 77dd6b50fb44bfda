package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/VoteDrop/internal/app"
	"github.com/dharsanguruparan/VoteDrop/internal/config"
	"github.com/dharsanguruparan/VoteDrop/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(openApp, os.Stdout)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "votedrop: %v\n", err)
		os.Exit(1)
	}
}

// opener builds the pipeline a command operates on.
type opener func(ctx context.Context) (*app.App, error)

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := requireSharedStore(cfg); err != nil {
		return nil, err
	}
	// Logs go to stderr so command output stays pipeable.
	logger := logging.NewWithOutput(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	return app.Build(ctx, cfg, logger)
}

// requireSharedStore refuses the memory store: every command runs in its own
// process, so an upload would be gone before the next command could see it.
func requireSharedStore(cfg *config.Config) error {
	if cfg.Store == config.StoreMemory {
		return fmt.Errorf("the CLI needs a persistent store; set VOTEDROP_STORE to %s or %s", config.StoreRedis, config.StorePostgres)
	}
	return nil
}

func newRootCommand(open opener, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "votedrop",
		Short: "VoteDrop admin CLI",
		Long: `VoteDrop CLI manages the results datasets queue directly against the configured store:
upload files, verify and apply them, delete rejected ones and print the current tally.`,
		SilenceUsage: true,
	}
	cmd.SetOut(out)
	cmd.AddCommand(
		newUploadCmd(open),
		newListCmd(open),
		newShowCmd(open),
		newSourceCmd(open),
		newVerifyCmd(open),
		newApplyCmd(open),
		newDeleteCmd(open),
		newResultsCmd(open),
		newRunCmd(),
	)
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run individual Go binaries directly",
	}
	cmd.AddCommand(
		newServiceRunner("server", "./cmd/server"),
		newServiceRunner("worker", "./cmd/worker"),
	)
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			goArgs := []string{"run", path}
			goArgs = append(goArgs, args...)
			return runCommand(ctx, "go", goArgs...)
		},
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
