package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSpinCmd() *cobra.Command {
	var times int

	cmd := &cobra.Command{
		Use:   "spin",
		Short: "Spin the reels, spending one spin per attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			if times < 1 {
				return fmt.Errorf("--times must be at least 1")
			}

			out := output(cmd)
			for range times {
				var result SpinResult
				if err := client.Post("/api/v1/spins", nil, &result); err != nil {
					return err
				}
				out.Print(result)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&times, "times", "n", 1, "Number of spins to play in sequence")

	return cmd
}

func newLeaderboardCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the top players by points",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/leaderboard"
			if limit > 0 {
				path += fmt.Sprintf("?limit=%d", limit)
			}

			var result []LeaderboardEntry
			if err := client.Get(path, &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to show (server default when 0)")

	return cmd
}
