package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChallengeKind distinguishes the two challenge periods
type ChallengeKind string

const (
	ChallengeDaily  ChallengeKind = "daily"
	ChallengeWeekly ChallengeKind = "weekly"
)

// ParseChallengeKind converts a path or message value into a ChallengeKind
func ParseChallengeKind(s string) (ChallengeKind, error) {
	switch k := ChallengeKind(s); k {
	case ChallengeDaily, ChallengeWeekly:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// DateLayout is the format of daily challenge dates
const DateLayout = "2006-01-02"

// Challenge is a single daily or weekly challenge. Daily challenges are
// keyed by Date, weekly ones by the ISO Year/Week pair.
type Challenge struct {
	ID        int64         `json:"id"`
	Kind      ChallengeKind `json:"kind"`
	Date      string        `json:"date,omitempty"`
	Year      int           `json:"year,omitempty"`
	Week      int           `json:"week,omitempty"`
	Seed      string        `json:"seed"`
	Boss      string        `json:"boss"`
	Character *int          `json:"character,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Period returns the identifier of the challenge's period
func (c Challenge) Period() string {
	if c.Kind == ChallengeWeekly {
		return WeekPeriod(c.Year, c.Week)
	}
	return c.Date
}

// WeekPeriod formats an ISO year/week pair as used in cache keys
func WeekPeriod(year, week int) string {
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// SubmissionRecord is one run submitted by a player for a challenge. It is
// only ever returned to the player who submitted it; public views go
// through LeaderboardEntry.
type SubmissionRecord struct {
	ID              int64           `json:"id"`
	ChallengeID     int64           `json:"challenge_id"`
	PlayerID        string          `json:"user_id"`
	PlayerDisplayID string          `json:"-"`
	Time            float64         `json:"time"`
	Data            json.RawMessage `json:"data"`
	Character       *int            `json:"character,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// LeaderboardEntry is the public form of a player's best run
type LeaderboardEntry struct {
	ID        int64           `json:"id"`
	Nickname  string          `json:"nickname"`
	Time      float64         `json:"time"`
	Character *int            `json:"character,omitempty"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Leaderboard is the reduced set of best runs for one challenge
type Leaderboard struct {
	ChallengeID  int64              `json:"challenge_id"`
	Kind         ChallengeKind      `json:"kind"`
	Entries      []LeaderboardEntry `json:"entries"`
	TotalPlayers int                `json:"total_players"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// CreateDailyRequest represents an admin request to schedule a daily challenge
type CreateDailyRequest struct {
	Date string `json:"date"`
	Seed string `json:"seed"`
	Boss string `json:"boss"`
}

// RecordSubmission represents a player's run submission
type RecordSubmission struct {
	Time      float64         `json:"time"`
	Seed      string          `json:"seed"`
	Character *int            `json:"character,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Validate checks that the required submission fields are present
func (r RecordSubmission) Validate() error {
	if r.Time <= 0 || r.Seed == "" || len(r.Data) == 0 || string(r.Data) == "null" {
		return ErrMissingFields
	}
	return nil
}

// RecordMessage is the Kafka message format for asynchronously ingested
// runs. The producer has already authenticated the player.
type RecordMessage struct {
	Kind   ChallengeKind `json:"kind"`
	UserID string        `json:"user_id"`
	Email  string        `json:"email"`
	RecordSubmission
}

// SeedReport describes a seed for the validation endpoint
type SeedReport struct {
	Seed          string `json:"seed"`
	WellFormed    bool   `json:"well_formed"`
	ChecksumValid bool   `json:"checksum_valid"`
}
