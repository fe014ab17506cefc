package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nextcodebr/nxcd-apm/pkg/apm"
	"github.com/nextcodebr/nxcd-apm/pkg/cli"
	"github.com/nextcodebr/nxcd-apm/pkg/codec"
	"github.com/nextcodebr/nxcd-apm/pkg/config"
	"github.com/nextcodebr/nxcd-apm/pkg/sink/dlq"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

var dlqFlags struct {
	output string
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-letter queues",
	Long: `Inspect and replay the dead-letter queues under dlq.path.

Each worker spools to its own queue ("worker-<n>"); batches refused at
admission or after shutdown go to "overflow", and a proxy spools batches
that got no acknowledgement to "proxy".`,
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the backlog of every queue",
	Example: `  apm dlq list
  apm dlq list --output json`,
	Args: cobra.NoArgs,
	RunE: runDLQList,
}

var dlqDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay spooled batches",
	Long: `Replay spooled batches into the primary store, or to the bridge when
broker.mode is "proxy". Replay stops at the first batch that cannot be
delivered; delivered entries are removed.`,
	Args: cobra.NoArgs,
	RunE: runDLQDrain,
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd, dlqDrainCmd)

	dlqListCmd.Flags().StringVarP(&dlqFlags.output, "output", "o", "text", "output format (text, json, csv)")
}

// queueStat is the backlog of one queue.
type queueStat struct {
	Queue        string `json:"queue"`
	Entries      int    `json:"entries"`
	Transactions int    `json:"transactions"`
	Unreadable   int    `json:"unreadable"`
}

type queueTable []queueStat

func (q queueTable) Header() []string {
	return []string{"QUEUE", "ENTRIES", "TRANSACTIONS", "UNREADABLE"}
}

func (q queueTable) Rows() [][]string {
	rows := make([][]string, 0, len(q))
	for _, s := range q {
		rows = append(rows, []string{
			s.Queue,
			strconv.Itoa(s.Entries),
			strconv.Itoa(s.Transactions),
			strconv.Itoa(s.Unreadable),
		})
	}
	return rows
}

func (q queueTable) transactions() int {
	total := 0
	for _, s := range q {
		total += s.Transactions
	}
	return total
}

// scanQueues reads every queue directory under cfg.DLQ.Path.
func scanQueues(ctx context.Context, cfg *config.Config) (queueTable, error) {
	serializer, err := codec.Lookup(cfg.DLQ.Codec)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, fmt.Errorf("dlq.codec: %w", err))
	}

	dirs, err := os.ReadDir(cfg.DLQ.Path)
	if os.IsNotExist(err) {
		return queueTable{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", cfg.DLQ.Path, err)
	}

	table := queueTable{}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		q, err := dlq.New(dlq.Config{Base: cfg.DLQ.Path, Prefix: d.Name(), Serializer: serializer})
		if err != nil {
			return nil, err
		}

		stat := queueStat{Queue: d.Name()}
		for entry, err := range q.List(ctx) {
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				stat.Unreadable++
				continue
			}
			stat.Entries++
			stat.Transactions += len(entry.Transactions)
		}
		table = append(table, stat)
	}
	return table, nil
}

func runDLQList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	table, err := scanQueues(commandContext(cmd), cfg)
	if err != nil {
		return cli.NewCommandError("dlq list", err)
	}

	if dlqFlags.output == string(cli.FormatText) && len(table) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No queues under %s\n", filepath.Clean(cfg.DLQ.Path))
		return nil
	}
	return cli.NewFormatter(cli.OutputFormat(dlqFlags.output)).FormatTo(cmd.OutOrStdout(), table)
}

func runDLQDrain(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// A one-shot drain must not join the bridge queue group.
	if cfg.Broker.Mode != "proxy" {
		cfg.Broker.Enabled = false
	}
	cfg.Workers.DrainSchedule = ""

	before, err := scanQueues(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("dlq drain", err)
	}
	pending := before.transactions()
	if pending == 0 {
		fmt.Fprintln(out, "✓ Nothing to drain")
		return nil
	}

	pipeline, err := apm.New(cfg, apm.Options{Registry: transaction.NewRegistry(), Version: versionInfo()})
	if err != nil {
		return cli.NewCommandError("dlq drain", err)
	}

	progress := cli.NewProgressReporter(out, "Drained", "transactions")
	progress.Start(int64(pending))

	drained, drainErr := pipeline.Drain(ctx)
	progress.Update(int64(drained))
	if drainErr != nil {
		progress.Error(drainErr)
	} else {
		progress.Finish()
	}

	if err := pipeline.Close(context.WithoutCancel(ctx)); err != nil {
		return cli.NewCommandError("dlq drain", err)
	}
	if drainErr != nil {
		return cli.NewCommandError("dlq drain", drainErr)
	}

	fmt.Fprintf(out, "✓ Drained %d of %d transactions\n", drained, pending)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
