package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/config"
)

const (
	flagEnv         = "env"
	flagPort        = "port"
	flagDatabaseURL = "database-url"
	flagRabbitURL   = "rabbitmq-url"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "concertd: %v\n", err)
		os.Exit(1)
	}
}

// runtime is what every subcommand starts from.
type runtime struct {
	v      *viper.Viper
	cfg    config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	rt := &runtime{v: config.New()}
	root := &cobra.Command{
		Use:           "concertd",
		Short:         "Concert seat ticketing service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}
	pf := root.PersistentFlags()
	pf.String(flagEnv, "", "application environment (dev, prod)")
	pf.String(flagDatabaseURL, "", "database DSN (mysql://, postgres://, sqlite://)")
	pf.String(flagRabbitURL, "", "RabbitMQ URL")

	root.AddCommand(newServeCommand(rt), newConsumeCommand(rt), newMigrateCommand(rt), newTokenCommand(rt))
	return root
}

// load reads .env, binds flags over environment values and builds the logger.
func (rt *runtime) load(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	bindings := map[string]string{
		config.KeyEnv:         flagEnv,
		config.KeyPort:        flagPort,
		config.KeyDatabaseURL: flagDatabaseURL,
		config.KeyRabbitURL:   flagRabbitURL,
	}
	for key, name := range bindings {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := rt.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	cfg, err := config.Load(rt.v)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	rt.cfg = cfg
	rt.logger = logger
	return nil
}
