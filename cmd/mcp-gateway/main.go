// mcp-gateway exposes an OpenAI-compatible chat-completions service as a
// Model Context Protocol tool over HTTP.
//
// Run the gateway in front of a local model server:
//
//	mcp-gateway serve --upstream http://localhost:8000 --model llama-3.2-1b-instruct
//
// and ask it a question from the command line:
//
//	mcp-gateway ask "How do I roll back a Kubernetes deployment?"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcp-gateway",
	Short: "MCP gateway for an OpenAI-compatible completion service",
	Long: `mcp-gateway serves the Model Context Protocol over HTTP and answers the
ask_devops_question tool by calling an upstream chat-completions service.

When the upstream streams its answer the gateway relays it as a stream of
partial frames; otherwise it replies with a single JSON document.

Running mcp-gateway without a subcommand is the same as 'mcp-gateway serve'.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default ./configs/gateway.yaml or ./gateway.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	mustBind("config", rootCmd.PersistentFlags().Lookup("config"))
	mustBind("debug", rootCmd.PersistentFlags().Lookup("debug"))

	// The root command serves by default and shares serve's flags.
	addServeFlags(serveCmd.Flags())
	addAskFlags()
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gateway version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcp-gateway %s\n", version)
	},
}

// mustBind binds a flag to a configuration key so that an explicitly set
// flag overrides the file and environment.
func mustBind(key string, f *pflag.Flag) {
	if err := viper.BindPFlag(key, f); err != nil {
		panic(err)
	}
}
