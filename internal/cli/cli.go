// Package cli wires flags, config, logging and the management client into a
// single provisioning run.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fbtenant/internal/config"
	"fbtenant/internal/flashblade"
	"fbtenant/internal/logger"
	"fbtenant/internal/provision"
	"fbtenant/internal/state"
)

// ManagementClientFactory builds the management API client once the
// environment has been validated.
type ManagementClientFactory func(env config.Env, cfg *config.Config) (provision.ManagementAPI, error)

func defaultManagementClient(env config.Env, cfg *config.Config) (provision.ManagementAPI, error) {
	return flashblade.NewClient(env.Endpoint,
		flashblade.WithInsecureSkipVerify(cfg.Management.InsecureSkipVerify),
		flashblade.WithAPIVersion(cfg.Management.APIVersion),
	)
}

// Run executes the root command with args.
func Run(args []string) error {
	cmd := Root(defaultManagementClient)
	cmd.SetArgs(args)
	return cmd.Execute()
}

// Root returns the fbtenant command.
func Root(newClient ManagementClientFactory) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:           "fbtenant",
		Short:         "Provision an object store tenant and write its Spark or credentials config",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProvision(cmd, opts, newClient)
		},
	}

	defaultConfigPath, err := state.ConfigPath()
	if err != nil {
		defaultConfigPath = ""
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ConfigPath, "config", defaultConfigPath, "path to config file")
	flags.StringVar(&opts.Account, "account", "datateam", "service account name")
	flags.StringVar(&opts.User, "user", "spark", "account user name")
	flags.StringVar(&opts.Format, "format", config.FormatSpark, "output format: spark or credentials")
	flags.StringVar(&opts.Outfile, "outfile", "", "output file (default spark-defaults.conf, or credentials for --format credentials)")
	flags.StringVar(&opts.LogLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(Version())
	return cmd
}

func runProvision(cmd *cobra.Command, opts runOptions, newClient ManagementClientFactory) error {
	level, err := logger.ParseLevel(opts.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log := logger.New(cmd.ErrOrStderr(), level)
	defer func() {
		_ = log.Sync()
	}()

	env, err := config.LoadEnv()
	if err != nil {
		return fmt.Errorf("%w: set %s and %s to log into the management REST API", err, config.ManagementEndpointEnv, config.ManagementTokenEnv)
	}

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	api, err := newClient(env, cfg)
	if err != nil {
		return fmt.Errorf("management client: %w", err)
	}

	log.Debug("starting provisioning",
		zap.String("endpoint", env.Endpoint),
		zap.String("account", cfg.Account),
		zap.String("user", cfg.User),
		zap.String("format", cfg.Format),
	)

	result, err := provision.New(cfg, env.Token, api, log).Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "provisioning complete: user=%s access_key=%s bucket=%s created=%t output=%s\n",
		result.User, result.AccessKeyID, result.Bucket, result.BucketCreated, result.OutputPath)
	return nil
}

// loadConfig reads the config file and applies flags the user set
// explicitly on top of it.
func loadConfig(cmd *cobra.Command, opts runOptions) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("account") {
		cfg.Account = opts.Account
	}
	if flags.Changed("user") {
		cfg.User = opts.User
	}
	if flags.Changed("format") {
		cfg.Format = opts.Format
	}
	if flags.Changed("outfile") {
		cfg.Outfile = opts.Outfile
	}

	cfg.ApplyDefaults()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return cfg, nil
}
