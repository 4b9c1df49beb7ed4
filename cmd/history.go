package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chenadu5299/binder/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved conversations",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	db, err := history.NewDB(cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer db.Close()

	tabs, err := history.NewRepository(db).ListTabs()
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	if len(tabs) == 0 {
		fmt.Println("no saved conversations")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tTITLE\tMODEL\tID")
	for _, t := range tabs {
		model := t.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.CreatedAt.Format("2006-01-02 15:04"), t.Title, model, t.ID)
	}
	return w.Flush()
}
