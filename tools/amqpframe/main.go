// Command amqpframe encodes and decodes AMQP 0-9-1 frames as hex, for
// inspecting captures and scripting broker conversations by hand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "amqpframe: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amqpframe",
		Short: "Encode and decode AMQP 0-9-1 frames",
		Long: `amqpframe converts between AMQP 0-9-1 frames and hex.

Frames are printed one per line. Method arguments are given and shown
as JSON objects keyed by field name, e.g. {"replyCode":200}.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		encodeCmd(),
		decodeCmd(),
		methodsCmd(),
	)
	return cmd
}
