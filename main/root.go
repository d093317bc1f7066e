package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cfn-failing-stacks/awserrors"
	"cfn-failing-stacks/cfnclient"
	"cfn-failing-stacks/collector"
	"cfn-failing-stacks/formatter"
	"cfn-failing-stacks/validator"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	appName   = "cfn-failing-stacks"
	envPrefix = "CFN_FAILING_STACKS"

	providerCLI = "cli"
	providerSDK = "sdk"

	description = "Finds the AWS CloudFormation stack events within a given stack and time period which have " +
		"'UPDATE_FAILED' or 'CREATE_FAILED' resource statuses. This includes nested stacks, allowing you to " +
		"quickly find the cause of failed stack deployments."
)

// Flags that make up the search window are per invocation and never read from config.
const (
	flagStartTime = "startTime"
	flagEndTime   = "endTime"
)

// settings is the resolved configuration of one run.
type settings struct {
	Provider     string
	AWSCLI       string
	Region       string
	Profile      string
	Concurrency  int
	QueryTimeout time.Duration
	Output       string
	NestedOnly   bool
	CloudTrail   bool
	Color        bool
	Quiet        bool
	LogLevel     string
}

func newRootCommand(deps deps) *cobra.Command {
	var configFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:           appName + " <stackNameOrArn>",
		Short:         "Find failed resource events in a CloudFormation stack and its nested stacks",
		Long:          description,
		Args:          exactlyOneStack,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, v, configFile); err != nil {
				return err
			}
			s, err := resolveSettings(v)
			if err != nil {
				return err
			}

			stackName := args[0]
			if err := validator.ValidateStackIdentifier(stackName); err != nil {
				return fmt.Errorf("%w: %v", awserrors.ErrUsage, err)
			}

			window, err := validator.ParseWindow(optionalFlag(cmd, flagStartTime), optionalFlag(cmd, flagEndTime), deps.now(), time.Local)
			if err != nil {
				return fmt.Errorf("%w: %v", awserrors.ErrUsage, err)
			}

			log, err := newLogger(s.LogLevel, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("%w: %v", awserrors.ErrUsage, err)
			}

			return run(cmd.Context(), stackName, window, s, deps, cmd.OutOrStdout(), cmd.ErrOrStderr(), log)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", awserrors.ErrUsage, err)
	})

	flags := cmd.Flags()
	flags.StringP(flagStartTime, "s", "", "The starting time boundary to find events within, as a date in your timezone (default: one hour ago)")
	flags.StringP(flagEndTime, "e", "", "The ending time boundary to find events within, as a date in your timezone (default: now)")
	flags.String("provider", providerCLI, "How stack events are fetched: cli (shell out to the AWS CLI) or sdk")
	flags.String("aws-cli", cfnclient.DefaultCLICommand, "AWS CLI command used by the cli provider")
	flags.String("region", "", "AWS region (default: from the AWS configuration)")
	flags.String("profile", "", "AWS named profile (default: from the AWS configuration)")
	flags.Int("concurrency", collector.DefaultConcurrency, "Maximum number of stack event queries in flight")
	flags.Duration("query-timeout", cfnclient.DefaultQueryTimeout, "Timeout of a single stack event query, all pages included")
	flags.StringP("output", "o", formatter.FormatJSON, "Output format: "+strings.Join(formatter.Formats, ", "))
	flags.Bool("nested-only", false, "Only follow failures of AWS::CloudFormation::Stack resources into child stacks")
	flags.Bool("cloudtrail", false, "Look up CloudTrail for failures reported as generic service errors")
	flags.Bool("no-color", false, "Disable coloured text output")
	flags.BoolP("quiet", "q", false, "Do not print progress lines")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.StringVar(&configFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/"+appName+"/config.yaml)")

	return cmd
}

func exactlyOneStack(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return fmt.Errorf("%w: %v", awserrors.ErrUsage, err)
	}
	return nil
}

// optionalFlag returns the flag's value when it was given on the command line, nil otherwise.
func optionalFlag(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return nil
	}
	return &value
}

// loadConfig layers flags over CFN_FAILING_STACKS_* environment variables
// over the config file.
func loadConfig(cmd *cobra.Command, v *viper.Viper, explicitPath string) error {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == flagStartTime || f.Name == flagEndTime || f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(f.Name, f)
	})
	if bindErr != nil {
		return bindErr
	}

	if explicitPath == "" {
		explicitPath = os.Getenv(envPrefix + "_CONFIG")
	}
	configureConfigFile(v, explicitPath)
	return readConfigFile(v, explicitPath != "")
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return fmt.Errorf("%w: read config: %v", awserrors.ErrUsage, err)
	}
	return nil
}

func configSearchDirs() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, appName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", appName), filepath.Join(home, "."+appName))
	}
	return dirs
}

func resolveSettings(v *viper.Viper) (settings, error) {
	s := settings{
		Provider:     strings.ToLower(strings.TrimSpace(v.GetString("provider"))),
		AWSCLI:       v.GetString("aws-cli"),
		Region:       v.GetString("region"),
		Profile:      v.GetString("profile"),
		Concurrency:  v.GetInt("concurrency"),
		QueryTimeout: v.GetDuration("query-timeout"),
		Output:       strings.ToLower(strings.TrimSpace(v.GetString("output"))),
		NestedOnly:   v.GetBool("nested-only"),
		CloudTrail:   v.GetBool("cloudtrail"),
		Color:        !v.GetBool("no-color") && !color.NoColor,
		Quiet:        v.GetBool("quiet"),
		LogLevel:     v.GetString("log-level"),
	}

	if s.Provider != providerCLI && s.Provider != providerSDK {
		return settings{}, fmt.Errorf("%w: unknown provider %q (expected %s or %s)", awserrors.ErrUsage, s.Provider, providerCLI, providerSDK)
	}
	if s.Concurrency < 1 {
		return settings{}, fmt.Errorf("%w: concurrency must be at least 1, got %d", awserrors.ErrUsage, s.Concurrency)
	}
	if s.QueryTimeout <= 0 {
		return settings{}, fmt.Errorf("%w: query-timeout must be positive, got %s", awserrors.ErrUsage, s.QueryTimeout)
	}
	if !formatter.ValidFormat(s.Output) {
		return settings{}, fmt.Errorf("%w: unknown output format %q (expected one of %s)", awserrors.ErrUsage, s.Output, strings.Join(formatter.Formats, ", "))
	}
	return s, nil
}
