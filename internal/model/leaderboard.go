package model

import (
	"cmp"
	"slices"
)

// LeaderboardEntry is a derived, read-only ranking row
type LeaderboardEntry struct {
	Rank     int
	Nickname string
	Points   int64
}

// CompareEntries orders by points descending, then nickname ascending
func CompareEntries(a, b LeaderboardEntry) int {
	if c := cmp.Compare(b.Points, a.Points); c != 0 {
		return c
	}
	return cmp.Compare(a.Nickname, b.Nickname)
}

// RankEntries sorts entries in leaderboard order, truncates to n (n <= 0 keeps all)
// and assigns 1-based ranks.
func RankEntries(entries []LeaderboardEntry, n int) []LeaderboardEntry {
	ranked := slices.Clone(entries)
	slices.SortFunc(ranked, CompareEntries)
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
