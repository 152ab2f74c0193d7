package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"imovel-scraper/services"
	"imovel-scraper/storage"
)

func resetCommand() *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the attempt counter and failed status of a listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				err := a.store.ResetAttempts(cmd.Context(), code)
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("no listing with code %s", code)
				}
				if err != nil {
					return err
				}
				a.logger.Info("[cli] %s reset", code)
				return printJSON(cmd, map[string]string{"code": code, "status": "reset"})
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "listing code")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func exportCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored listing to a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if out == "" {
					out = a.cfg.CSVOutputPath
				}
				listings, err := a.store.Listings(cmd.Context())
				if err != nil {
					return err
				}

				w, err := storage.NewCSVWriter(out)
				if err != nil {
					return err
				}
				if err := w.Write(listings); err != nil {
					_ = w.Close()
					return err
				}
				if err := w.Close(); err != nil {
					return err
				}
				a.logger.Info("[cli] exported %d listings to %s", len(listings), out)
				return printJSON(cmd, map[string]any{"exported": len(listings), "path": out})
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (defaults to CSV_OUTPUT_PATH)")
	return cmd
}

func reportCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a summary of the stored catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				listings, err := a.store.Listings(cmd.Context())
				if err != nil {
					return err
				}
				insights := services.NewInsightService(a.logger)
				report := insights.Generate(listings)
				if asJSON {
					return printJSON(cmd, report)
				}
				insights.Print(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
