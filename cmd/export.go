package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatmeter/internal/analytics"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sessions as CSV or a JSON report",
	RunE:  runExport,
}

var (
	exportFormat string
	exportOutput string
)

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", analytics.FormatCSV, "Output format: csv or json")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default stdout)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	// Buffered so a failed export never leaves a partial file behind.
	var buf bytes.Buffer
	days := a.days()
	err = a.usage.Export(ctx, &buf, strings.ToLower(exportFormat), days)
	if errors.Is(err, analytics.ErrNoData) {
		return fmt.Errorf("nothing to export: no sessions in the last %d days", days)
	}
	if err != nil {
		return err
	}

	if exportOutput == "" {
		_, err = os.Stdout.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(exportOutput, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "  Wrote %s export of the last %dd to %s\n", exportFormat, days, exportOutput)
	}
	return nil
}
