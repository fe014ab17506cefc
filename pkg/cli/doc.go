/*
Package cli provides command-line utilities for the apm command: output
formatters, a progress reporter, typed command errors and signal handling.

Output Formatting:

Results are printed as text, JSON or CSV. Values implementing Table are
rendered as aligned columns in text and as rows in CSV:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, queues); err != nil {
		return err
	}

Progress Reporting:

	progress := cli.NewProgressReporter(os.Stdout, "Drained", "transactions")
	progress.Start(pending)
	progress.Update(drained)
	progress.Finish()

Signal Handling:

	ctx := cli.SetupSignalHandler()
	// ctx is cancelled on SIGINT or SIGTERM
*/
package cli
