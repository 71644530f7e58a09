// Package cli implements ledgerctl, the operator tool for the entitlement
// ledger. It talks to the same store as the API through internal/app, so it
// needs the same DB_DRIVER and DATABASE_URL settings.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"flui/internal/app"
	"flui/internal/config"
)

// Options are the process dependencies of the command tree. Zero fields get
// the production defaults.
type Options struct {
	Version string
	In      io.Reader
	Out     io.Writer
	// Open wires the engine. Defaults to loading configuration from the
	// environment (and SSM outside APP_ENV=local).
	Open func(ctx context.Context) (*app.App, error)
	// SSM creates the Parameter Store client used by the secrets commands.
	SSM func(ctx context.Context) (SSMClient, error)
	Now func() time.Time
}

func (o *Options) defaults() {
	if o.Version == "" {
		o.Version = "dev"
	}
	if o.In == nil {
		o.In = os.Stdin
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Open == nil {
		o.Open = openFromEnv
	}
	if o.SSM == nil {
		o.SSM = defaultSSMClient
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// NewRootCmd creates the root cobra command for ledgerctl.
func NewRootCmd(opts Options) *cobra.Command {
	opts.defaults()
	o := &opts

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "ledgerctl, operator tool for the entitlement ledger",
		Long:          "ledgerctl inspects and adjusts accounts, runs cycle rollovers and manages deployment secrets.",
		Version:       o.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(o.In)
	root.SetOut(o.Out)

	root.AddCommand(newPlansCmd(o))
	root.AddCommand(newPackagesCmd(o))
	root.AddCommand(newProvisionCmd(o))
	root.AddCommand(newShowCmd(o))
	root.AddCommand(newCheckCmd(o, false))
	root.AddCommand(newCheckCmd(o, true))
	root.AddCommand(newGrantCmd(o))
	root.AddCommand(newTierCmd(o))
	root.AddCommand(newRolloverCmd(o))
	root.AddCommand(newSecretsCmd(o))

	return root
}

// withApp opens the engine for one command and closes it afterwards.
func withApp(cmd *cobra.Command, o *Options, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := o.Open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}

func openFromEnv(ctx context.Context) (*app.App, error) {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return nil, err
	}

	// Logs go to stderr so command output stays pipeable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return app.New(ctx, cfg, logger)
}
