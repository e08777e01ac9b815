package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/headband-recorder/internal/catalog"
)

var (
	sessionsLimit int
	sessionsJSON  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List cataloged recording sessions",
	Long:  `List recording sessions from the session catalog, newest first.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("failed to open session catalog: %w", err)
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		sessions, err := store.List(ctx, sessionsLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if sessionsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(sessions)
		}

		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions recorded")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tSENSORS\tFILES\tSTATUS")
		for _, s := range sessions {
			duration := "-"
			status := "ok"
			if s.Open() {
				status = "open"
			} else {
				duration = s.StoppedAt.Sub(s.StartedAt).Round(time.Second).String()
			}
			if s.Error != "" {
				status = "failed"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%d\t%s\n",
				s.ID, s.StartedAt.Format(time.DateTime), duration, s.Sensors, len(s.Files), status)
		}
		return tw.Flush()
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "maximum sessions to list, 0 for all")
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "print sessions as JSON")
}
