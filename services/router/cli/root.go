package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-agent-flow/pkg/cmdutil"
)

const service = "router"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "router",
	Short:        "AgentFlow Router, fans pending jobs out to per-queue topics",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/router/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(cmdutil.InitConfig(viper.GetViper(), service, &cfgFile))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./router.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	rootCmd.PersistentFlags().String("log-file", "", "also write JSON logs to this file")
	cmdutil.BindFlag(viper.GetViper(), "log_level", rootCmd.PersistentFlags(), "log-level")
	cmdutil.BindFlag(viper.GetViper(), "log_file", rootCmd.PersistentFlags(), "log-file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cmdutil.NewInitCmd(service, defaultRouterYAML, &cfgFile))
	rootCmd.AddCommand(cmdutil.NewVersionCmd(service))
}

const defaultRouterYAML = `# AgentFlow Router config
# Priority: CLI flag > env (AGENTFLOW_*) > this file > default.

kafka_brokers:   "localhost:9092"
consumer_group:  "router-group"
redis_addr:      "localhost:6379"
log_level:       "info"
rate_limit:      100          # max jobs/second per job kind (0 = disabled)
job_status_ttl:  "1h"         # how long an interaction's job statuses outlive the last write
broadcast_limit: 10240        # bytes; larger events are dropped
metrics_addr:    ":9094"

# otel_endpoint: "localhost:4318"  # uncomment to enable OpenTelemetry tracing
# otel_sample_ratio: 1.0
`
