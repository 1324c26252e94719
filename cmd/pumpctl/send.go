package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baldanca/queue-pump/codec"
	"github.com/baldanca/queue-pump/config"
	"github.com/baldanca/queue-pump/dispatcher"
	"github.com/baldanca/queue-pump/queue"
)

var sendFlags struct {
	queue  string
	delay  int32
	batch  int
	attrs  []string
	encode bool
}

var sendCmd = &cobra.Command{
	Use:   "send body...",
	Short: "send one or more message bodies to a queue",
	Long: `send writes each argument as one message body. With more than one
body the messages are sent in batches of --batch entries.

With --json each body must be a JSON document; it is compacted and tagged
with a MessageType attribute. Otherwise bodies are sent as given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		client, err := queueClient(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		return send(cmd.Context(), cmd.OutOrStdout(), client, args)
	},
}

func init() {
	f := sendCmd.Flags()
	f.StringVarP(&sendFlags.queue, "queue", "q", "", "queue name or url")
	f.Int32Var(&sendFlags.delay, "delay", 0, "delivery delay in seconds (0-900)")
	f.IntVar(&sendFlags.batch, "batch", dispatcher.DefaultBatchSize, "entries per batch call")
	f.StringSliceVar(&sendFlags.attrs, "attr", nil, "message attribute as key=value, repeatable; raw bodies only")
	f.BoolVar(&sendFlags.encode, "json", false, "validate and compact bodies as JSON")
	_ = sendCmd.MarkFlagRequired("queue")
}

func send(ctx context.Context, out io.Writer, client queue.Client, bodies []string) error {
	attrs, err := parseAttrs(sendFlags.attrs)
	if err != nil {
		return err
	}
	d := dispatcher.New[json.RawMessage](client, codec.JSON[json.RawMessage]{})

	if sendFlags.encode {
		items := make([]json.RawMessage, len(bodies))
		for i, b := range bodies {
			items[i] = json.RawMessage(b)
		}
		if len(items) == 1 {
			id, err := d.Queue(ctx, items[0], sendFlags.queue, sendFlags.delay)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, id)
			return nil
		}
		res, err := d.QueueBatch(ctx, items, sendFlags.queue, sendFlags.delay, sendFlags.batch)
		printIDs(out, res)
		return err
	}

	reqs := make([]queue.OutgoingMessage, len(bodies))
	for i, b := range bodies {
		reqs[i] = queue.OutgoingMessage{Body: b, Attributes: attrs}
	}
	if len(reqs) == 1 {
		id, err := d.QueueRequest(ctx, reqs[0], sendFlags.queue, sendFlags.delay)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, id)
		return nil
	}
	res, err := d.QueueBatchRequest(ctx, reqs, sendFlags.queue, sendFlags.delay, sendFlags.batch)
	printIDs(out, res)
	return err
}

func printIDs(out io.Writer, res dispatcher.BatchResult) {
	for i, id := range res.MessageIDs() {
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(out, "%d\t%s\n", i, id)
	}
}

func parseAttrs(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("attribute %q: want key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}
