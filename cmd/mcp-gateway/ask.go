package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/devops-mcp-gateway/pkg/client"
	"github.com/spf13/cobra"
)

var (
	gatewayURL string
	askID      string
	askQuiet   bool
	askTimeout time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the gateway a DevOps question",
	Long: `Ask a running gateway a question and print the answer as it streams.

Interrupting with Ctrl-C closes the connection, which aborts the upstream
request on the gateway side.`,
	Example: `  mcp-gateway ask "How do I roll back a Kubernetes deployment?"
  mcp-gateway ask --gateway http://gw.internal:7373 --quiet "What is a canary release?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		if askTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, askTimeout)
			defer cancel()
		}

		c, err := client.New(gatewayURL)
		if err != nil {
			return err
		}

		question := strings.Join(args, " ")
		out := cmd.OutOrStdout()

		var onPartial client.PartialFunc
		var printed string
		if !askQuiet {
			onPartial = func(text string) {
				printed = printSuffix(out, text, printed)
			}
		}

		var answer string
		if askID != "" {
			answer, err = c.AskWithID(ctx, askID, question, onPartial)
		} else {
			answer, err = c.Ask(ctx, question, onPartial)
		}
		if err != nil {
			if printed != "" {
				fmt.Fprintln(out)
			}
			return fmt.Errorf("ask: %w", err)
		}

		printSuffix(out, answer, printed)
		fmt.Fprintln(out)
		return nil
	},
}

// printSuffix writes the part of text not yet printed and returns text.
// Partial frames carry the cumulative answer, so normally only the new tail
// reaches the terminal.
func printSuffix(w io.Writer, text, printed string) string {
	if strings.HasPrefix(text, printed) {
		fmt.Fprint(w, text[len(printed):])
	} else {
		fmt.Fprint(w, "\n"+text)
	}
	return text
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools a running gateway exposes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(gatewayURL)
		if err != nil {
			return err
		}

		info, err := c.Initialize(cmd.Context())
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		tools, err := c.ListTools(cmd.Context())
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s (MCP %s)\n\n", info.ServerInfo.Name, info.ServerInfo.Version, info.ProtocolVersion)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDESCRIPTION")
		for _, t := range tools {
			fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Description)
		}
		return tw.Flush()
	},
}

func addAskFlags() {
	for _, cmd := range []*cobra.Command{askCmd, toolsCmd} {
		cmd.Flags().StringVar(&gatewayURL, "gateway", "http://localhost:7373", "gateway base URL")
	}
	askCmd.Flags().StringVar(&askID, "id", "", "JSON-RPC request id (lets another process cancel the call)")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "print only the final answer")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 0, "give up after this long (0 waits for the gateway)")
}
