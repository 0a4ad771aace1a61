// Package cmdutil holds the cobra/viper plumbing every service binary shares:
// config discovery, flag binding, the init and version subcommands, and
// signal-driven shutdown.
package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-agent-flow/internal/version"
)

// ConfigDir is the per-user directory config files are looked up in and written to.
const ConfigDir = ".go-agent-flow"

// EnvPrefix namespaces environment overrides, e.g. AGENTFLOW_REDIS_ADDR.
const EnvPrefix = "AGENTFLOW"

// InitConfig returns a cobra.OnInitialize hook that loads service.yaml from
// *cfgFile, the working directory, ~/.go-agent-flow or /etc/go-agent-flow.
// A missing file is fine; an unreadable one is fatal.
func InitConfig(v *viper.Viper, service string, cfgFile *string) func() {
	return func() {
		if *cfgFile != "" {
			v.SetConfigFile(*cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			v.SetConfigName(service)
			v.SetConfigType("yaml")
			v.AddConfigPath(".")
			v.AddConfigPath(filepath.Join(home, ConfigDir))
			v.AddConfigPath("/etc/go-agent-flow")
		}

		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		v.AutomaticEnv()

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				fmt.Fprintln(os.Stderr, "error reading config file:", err)
				os.Exit(1)
			}
		} else {
			fmt.Fprintln(os.Stderr, "config:", v.ConfigFileUsed())
		}
	}
}

// BindFlag binds a flag to a viper key, panicking on a typo so it shows up at startup.
func BindFlag(v *viper.Viper, key string, fs *pflag.FlagSet, flagName string) {
	if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, key, err))
	}
}

// NewInitCmd returns an "init" subcommand that writes defaultYAML to
// *cfgFile, or to ~/.go-agent-flow/<service>.yaml when no path was given.
func NewInitCmd(service, defaultYAML string, cfgFile *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: fmt.Sprintf(`Write default configuration for %s.

If --config is given the file is written to that path.
Otherwise it is written to ~/%s/%s.yaml.
Fails if the file already exists unless --force is passed.`, service, ConfigDir, service),
		RunE: func(cmd *cobra.Command, _ []string) error {
			dest := *cfgFile
			if dest == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("home dir: %w", err)
				}
				dest = filepath.Join(home, ConfigDir, service+".yaml")
			}
			return WriteDefaultConfig(cmd, dest, defaultYAML, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")
	return cmd
}

// WriteDefaultConfig writes content to dest, refusing to overwrite unless force.
func WriteDefaultConfig(cmd *cobra.Command, dest, content string, force bool) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if !force {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", dest, err)
		}
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	cmd.Printf("config written to %s\n", dest)
	return nil
}

// NewVersionCmd prints build information for service.
func NewVersionCmd(service string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Print(version.Banner(service))
		},
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Brokers splits a comma-separated broker list, dropping blanks.
func Brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
