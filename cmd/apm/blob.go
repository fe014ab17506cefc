package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextcodebr/nxcd-apm/pkg/cli"
	"github.com/nextcodebr/nxcd-apm/pkg/sink/primary"
)

var blobFlags struct {
	output string
}

var blobCmd = &cobra.Command{
	Use:   "blob",
	Short: "Read externalized payloads",
}

var blobGetCmd = &cobra.Command{
	Use:   "get <hash>",
	Short: "Print the payload stored under a hash",
	Long: `Print the payload a handle points to. The blob store is resolved from
deflate.target; "store" reads the blob collection of the primary store.`,
	Example: `  apm blob get 9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08 -o payload.bin`,
	Args:    cobra.ExactArgs(1),
	RunE:    runBlobGet,
}

func init() {
	rootCmd.AddCommand(blobCmd)
	blobCmd.AddCommand(blobGetCmd)

	blobGetCmd.Flags().StringVarP(&blobFlags.output, "output", "o", "", "write to file instead of stdout")
}

func runBlobGet(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pc, err := primary.ConfigFrom(cfg, nil)
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	resolve := pc.Blobs
	if resolve == nil {
		resolve = primary.StoreBlobs
	}

	store, err := pc.Connector(ctx)
	if err != nil {
		return cli.NewCommandError("blob get", err)
	}
	defer store.Close(ctx)

	blobs, err := resolve(ctx, store)
	if err != nil {
		return cli.NewCommandError("blob get", err)
	}
	data, err := blobs.Fetch(ctx, args[0])
	if err != nil {
		return cli.NewCommandError("blob get", err)
	}

	if blobFlags.output != "" {
		if err := os.WriteFile(blobFlags.output, data, 0o644); err != nil {
			return cli.NewCommandError("blob get", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Wrote %d bytes to %s\n", len(data), blobFlags.output)
		return nil
	}

	_, err = cmd.OutOrStdout().Write(data)
	return err
}
