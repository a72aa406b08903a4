// Package leaderboard reduces raw run submissions to public per-player
// standings.
package leaderboard

import (
	"sort"

	"github.com/daily-challenge/internal/domain"
	"github.com/daily-challenge/internal/mask"
)

// Reduce keeps each player's fastest run and converts it to its public
// form, with the display identifier passed through masker.
//
// A later record replaces the kept one only if its time is strictly lower,
// so exact ties keep whichever record came first in records. Entries are
// emitted in order of each player's first appearance; callers that display
// them should use SortByTime.
func Reduce(records []domain.SubmissionRecord, masker mask.Masker) []domain.LeaderboardEntry {
	best := make(map[string]int, len(records))
	order := make([]string, 0, len(records))

	for i, rec := range records {
		j, seen := best[rec.PlayerID]
		if !seen {
			order = append(order, rec.PlayerID)
			best[rec.PlayerID] = i
			continue
		}
		if rec.Time < records[j].Time {
			best[rec.PlayerID] = i
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(order))
	for _, playerID := range order {
		rec := records[best[playerID]]
		entries = append(entries, domain.LeaderboardEntry{
			ID:        rec.ID,
			Nickname:  masker.Mask(rec.PlayerDisplayID),
			Time:      rec.Time,
			Character: rec.Character,
			Data:      rec.Data,
			CreatedAt: rec.CreatedAt,
		})
	}
	return entries
}

// SortByTime orders entries fastest first. Equal times keep their relative
// order.
func SortByTime(entries []domain.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time < entries[j].Time
	})
}
