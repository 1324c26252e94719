package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/baldanca/queue-pump/config"
)

var resolveQueue string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "print the url of a queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		client, err := queueClient(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		url, err := client.ResolveURL(cmd.Context(), resolveQueue)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVarP(&resolveQueue, "queue", "q", "", "queue name")
	_ = resolveCmd.MarkFlagRequired("queue")
}
