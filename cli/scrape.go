package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"imovel-scraper/models"
	"imovel-scraper/orchestrator"
)

// errRunFailed makes a command exit non-zero after its summary is printed.
var errRunFailed = errors.New("run finished with errors")

func scrapeCommand() *cobra.Command {
	var (
		code     string
		priority string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape one listing now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if priority != models.PriorityHigh && priority != models.PriorityDefault {
				return fmt.Errorf("priority must be %s or %s", models.PriorityHigh, models.PriorityDefault)
			}
			return withApp(cmd.Context(), func(a *app) error {
				summary, res := a.orch.ScrapeOne(cmd.Context(), code, orchestrator.Options{
					Force:    force,
					Priority: priority,
				})
				out := struct {
					*models.RunSummary
					Result *orchestrator.Result `json:"result"`
					Error  string               `json:"error,omitempty"`
				}{summary, res, res.Error()}
				if err := printJSON(cmd, out); err != nil {
					return err
				}
				if res.Outcome == orchestrator.OutcomeFailed {
					return fmt.Errorf("scrape %s: %w", code, res.Err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "listing code")
	cmd.Flags().StringVar(&priority, "priority", models.PriorityDefault, "task priority (high or default)")
	cmd.Flags().BoolVar(&force, "force", false, "ignore the skip policy")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func dueCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "due",
		Short: "Scrape listings never scraped or gone stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				summary, err := a.orch.RunDue(cmd.Context(), limit)
				return finishRun(cmd, summary, err)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum listings to scrape")
	return cmd
}

func catalogCommand(use, short string, force bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				summary, err := a.orch.RunCatalog(cmd.Context(), force)
				return finishRun(cmd, summary, err)
			})
		},
	}
}

// finishRun prints the summary of a batch run and turns errors into a
// non-zero exit.
func finishRun(cmd *cobra.Command, summary *models.RunSummary, err error) error {
	if summary != nil {
		if perr := printJSON(cmd, summary); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if summary.Total > 0 && summary.Processed == 0 && summary.Errors > 0 {
		return errRunFailed
	}
	return nil
}
