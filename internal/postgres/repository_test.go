package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daily-challenge/internal/domain"
)

func TestTables(t *testing.T) {
	c, r, err := tables(domain.ChallengeDaily)
	require.NoError(t, err)
	assert.Equal(t, "daily_challenges", c)
	assert.Equal(t, "daily_challenge_records", r)

	c, r, err = tables(domain.ChallengeWeekly)
	require.NoError(t, err)
	assert.Equal(t, "weekly_challenges", c)
	assert.Equal(t, "weekly_challenge_records", r)

	_, _, err = tables("monthly")
	assert.ErrorIs(t, err, domain.ErrInvalidKind)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(assert.AnError))
}

// testRepository connects to CHALLENGE_TEST_DATABASE_URL; the integration
// tests are skipped when it is unset.
func testRepository(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("CHALLENGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHALLENGE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := &Repository{pool: pool, logger: slog.New(slog.NewTextHandler(os.Stderr, nil))}
	require.NoError(t, repo.RunMigrations(ctx))
	return repo
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()

	// A far-future date keeps reruns from colliding with real data.
	date := time.Now().AddDate(50, 0, int(time.Now().UnixNano()%1000)).Format(domain.DateLayout)
	daily := &domain.Challenge{Kind: domain.ChallengeDaily, Date: date, Seed: "D1PWXBN9", Boss: "mother"}
	require.NoError(t, repo.CreateChallenge(ctx, daily))
	require.NotZero(t, daily.ID)

	dup := &domain.Challenge{Kind: domain.ChallengeDaily, Date: date, Seed: "B91199JA", Boss: "mother"}
	assert.ErrorIs(t, repo.CreateChallenge(ctx, dup), domain.ErrChallengeExists)

	got, err := repo.GetDailyByDate(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, daily.ID, got.ID)
	assert.Equal(t, "D1PWXBN9", got.Seed)
	assert.Equal(t, date, got.Date)

	user := domain.User{ID: fmt.Sprintf("user-%d", time.Now().UnixNano()), Email: "runner@example.com"}
	require.NoError(t, repo.UpsertUser(ctx, user))

	for _, tm := range []float64{120.5, 99.25} {
		rec := &domain.SubmissionRecord{
			ChallengeID: daily.ID,
			PlayerID:    user.ID,
			Time:        tm,
			Data:        json.RawMessage(`{"items":[1,2,3]}`),
		}
		require.NoError(t, repo.InsertRecord(ctx, domain.ChallengeDaily, rec))
		require.NotZero(t, rec.ID)
	}

	records, err := repo.ListRecords(ctx, domain.ChallengeDaily, daily.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 120.5, records[0].Time)
	assert.Equal(t, "runner@example.com", records[1].PlayerDisplayID)
	assert.JSONEq(t, `{"items":[1,2,3]}`, string(records[0].Data))

	_, err = repo.GetChallenge(ctx, domain.ChallengeWeekly, -1)
	assert.ErrorIs(t, err, domain.ErrChallengeNotFound)
}
