package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/auroraplayer/aurora-airplay-backend/internal/journal"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <journal>",
		Short: "Summarize a captured journal without replaying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := journal.NewReplay(args[0])
			if err != nil {
				return err
			}
			info, err := r.Inspect()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}
