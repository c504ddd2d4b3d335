package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved browsing sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.Open(cfg.Session)
		if err != nil {
			return err
		}
		defer store.Close()

		infos, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCOOKIES\tORIGINS\tSAVED")
		for _, s := range infos {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", s.ID, s.Cookies, s.Origins, s.SavedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete saved sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.Open(cfg.Session)
		if err != nil {
			return err
		}
		defer store.Close()

		for _, id := range args {
			if err := store.Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			fmt.Printf("deleted %s\n", id)
		}
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)
}
