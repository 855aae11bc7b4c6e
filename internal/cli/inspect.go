package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sophia/internal/recovery"
)

func inspectCmd(getenv func(string) string) *cobra.Command {
	var in, format string
	var rows int

	c := &cobra.Command{
		Use:   "inspect",
		Short: "Recover a file and print the summary without writing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, getenv)
			if err != nil {
				return err
			}
			if in == "" {
				in = cfg.Recovery.Input
			}

			p, logger, err := newParser(cmd, cfg)
			if err != nil {
				return err
			}

			res, err := p.Recover(cmd.Context(), in)
			if err != nil {
				logger.Error("recovery failed", "source", in, "error", err)
				return err
			}

			w := cmd.OutOrStdout()
			if err := printSummary(w, res.Summary, "", format); err != nil {
				return err
			}
			if format == "json" || rows <= 0 {
				return nil
			}

			preview := res.Table
			if rows < len(preview.Records) {
				preview.Records = preview.Records[:rows]
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "First %d records:\n", len(preview.Records))
			return recovery.WriteTable(w, preview, p.Options().InnerDelimiter, recovery.MustCodec("utf-8"))
		},
	}

	c.Flags().StringVarP(&in, "in", "i", "", "Damaged input file (env RECOVER_INPUT, default dataset.csv)")
	c.Flags().IntVarP(&rows, "rows", "n", 5, "Records to preview, 0 for none")
	c.Flags().StringVar(&format, "format", "pretty", "Summary format: pretty|json")
	return c
}

func encodingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encodings",
		Short: "List the accepted encoding names",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range recovery.SupportedEncodings() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
