package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-agent-flow/pkg/cmdutil"
)

const service = "worker"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "worker",
	Short:        "AgentFlow Worker, runs agent executions and output action deliveries",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/worker/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(cmdutil.InitConfig(viper.GetViper(), service, &cfgFile))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./worker.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	rootCmd.PersistentFlags().String("log-file", "", "also write JSON logs to this file")
	cmdutil.BindFlag(viper.GetViper(), "log_level", rootCmd.PersistentFlags(), "log-level")
	cmdutil.BindFlag(viper.GetViper(), "log_file", rootCmd.PersistentFlags(), "log-file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cmdutil.NewInitCmd(service, defaultWorkerYAML, &cfgFile))
	rootCmd.AddCommand(cmdutil.NewVersionCmd(service))
}
