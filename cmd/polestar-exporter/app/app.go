// Package app builds the polestar-exporter command.
package app

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/polestar-community/polestar-go/cmd/polestar-exporter/app/options"
	"github.com/polestar-community/polestar-go/internal/log"
	"github.com/polestar-community/polestar-go/pkg/account"
	"github.com/polestar-community/polestar-go/pkg/exporter"
	"github.com/polestar-community/polestar-go/pkg/publish"
)

// NewExporterCommand creates the root command. ctx is cancelled on SIGINT or SIGTERM.
func NewExporterCommand(ctx context.Context) *cobra.Command {
	opts := options.NewExporterOptions()
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "polestar-exporter",
		Short: "Serve Polestar vehicle telemetry over HTTP, Prometheus and MQTT",
		Long: `polestar-exporter signs in to a Polestar ID account, keeps a cache of vehicle telemetry
fresh, and serves it as a REST API, Prometheus metrics and (optionally) retained MQTT topics.

Every flag can also be set in the YAML file given by --config, or with an environment variable
named after the flag: --account.username becomes POLESTAR_ACCOUNT_USERNAME.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.Load(v, cmd.Flags(), configFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Log.Apply()
			if configFile != "" {
				v.OnConfigChange(reloadLogLevel(v))
				v.WatchConfig()
			}
			return run(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file.")
	opts.AddFlags(cmd.Flags())
	return cmd
}

// reloadLogLevel returns a config watcher that applies log.level changes without a restart. Other
// settings take effect on the next start.
func reloadLogLevel(v *viper.Viper) func(fsnotify.Event) {
	return func(e fsnotify.Event) {
		name := v.GetString("log.level")
		level, ok := log.ParseLevel(name)
		if !ok {
			log.Warning("Ignoring log.level '%s' from %s", name, e.Name)
			return
		}
		log.SetLevel(level)
		log.Info("Log level set to %s after %s of %s", name, e.Op, e.Name)
	}
}

func connect(ctx context.Context, opts *options.ExporterOptions) (*account.Account, func(), error) {
	config, err := opts.Account.CLIConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := config.LoadCredentials(); err != nil {
		return nil, nil, fmt.Errorf("error loading credentials: %w", err)
	}

	signInCtx, cancel := context.WithTimeout(ctx, opts.Account.SignInTimeout)
	defer cancel()
	acct, err := config.Account(signInCtx)
	if err != nil {
		return nil, nil, err
	}
	return acct, func() { config.SaveCache(acct) }, nil
}

func run(ctx context.Context, opts *options.ExporterOptions) error {
	acct, done, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer done()
	log.Info("Signed in; exporting %d vehicle(s)", len(acct.VINs()))

	server := exporter.NewServer(opts.HTTP.Addr, acct)
	poller := exporter.NewPoller(acct, opts.Poll.Interval, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		return poller.Start(gctx)
	})
	if opts.Mqtt.Enabled() {
		g.Go(func() error {
			return publish.Run(gctx, opts.Mqtt.Config, acct, func(p *publish.Publisher) {
				poller.OnPoll(p.OnPoll)
			})
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("Exporter stopped: %s", err)
		return err
	}
	log.Info("Exporter stopped")
	return nil
}
