package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daily-challenge/internal/config"
	"github.com/daily-challenge/internal/domain"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			email VARCHAR(320) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS daily_challenges (
			id BIGSERIAL PRIMARY KEY,
			date DATE NOT NULL UNIQUE,
			seed CHAR(8) NOT NULL,
			boss VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS weekly_challenges (
			id BIGSERIAL PRIMARY KEY,
			year INT NOT NULL,
			week INT NOT NULL,
			seed CHAR(8) NOT NULL,
			boss VARCHAR(64) NOT NULL,
			character INT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(year, week)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_challenge_records (
			id BIGSERIAL PRIMARY KEY,
			challenge_id BIGINT NOT NULL REFERENCES daily_challenges(id) ON DELETE CASCADE,
			user_id VARCHAR(64) NOT NULL REFERENCES users(id),
			time DOUBLE PRECISION NOT NULL,
			character INT,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS weekly_challenge_records (
			id BIGSERIAL PRIMARY KEY,
			challenge_id BIGINT NOT NULL REFERENCES weekly_challenges(id) ON DELETE CASCADE,
			user_id VARCHAR(64) NOT NULL REFERENCES users(id),
			time DOUBLE PRECISION NOT NULL,
			character INT,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_records_challenge ON daily_challenge_records(challenge_id, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_weekly_records_challenge ON weekly_challenge_records(challenge_id, created_at, id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// tables returns the challenge and record tables for a kind
func tables(kind domain.ChallengeKind) (challenges, records string, err error) {
	switch kind {
	case domain.ChallengeDaily:
		return "daily_challenges", "daily_challenge_records", nil
	case domain.ChallengeWeekly:
		return "weekly_challenges", "weekly_challenge_records", nil
	}
	return "", "", fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
}

// CreateChallenge inserts a challenge and fills in its ID and creation time
func (r *Repository) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	var row pgx.Row
	switch c.Kind {
	case domain.ChallengeDaily:
		row = r.pool.QueryRow(ctx, `
			INSERT INTO daily_challenges (date, seed, boss)
			VALUES ($1::date, $2, $3)
			RETURNING id, created_at
		`, c.Date, c.Seed, c.Boss)
	case domain.ChallengeWeekly:
		row = r.pool.QueryRow(ctx, `
			INSERT INTO weekly_challenges (year, week, seed, boss, character)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, c.Year, c.Week, c.Seed, c.Boss, c.Character)
	default:
		return fmt.Errorf("%w: %q", domain.ErrInvalidKind, c.Kind)
	}

	if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrChallengeExists
		}
		return fmt.Errorf("creating %s challenge: %w", c.Kind, err)
	}
	return nil
}

// UpdateDailyChallenge rewrites the date, seed and boss of a daily challenge
func (r *Repository) UpdateDailyChallenge(ctx context.Context, c *domain.Challenge) error {
	query := `
		UPDATE daily_challenges
		SET date = $2::date, seed = $3, boss = $4
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, c.ID, c.Date, c.Seed, c.Boss)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrChallengeExists
		}
		return fmt.Errorf("updating daily challenge: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrChallengeNotFound
	}
	return nil
}

// GetChallenge retrieves a challenge by kind and ID
func (r *Repository) GetChallenge(ctx context.Context, kind domain.ChallengeKind, id int64) (*domain.Challenge, error) {
	switch kind {
	case domain.ChallengeDaily:
		return r.getDaily(ctx, `WHERE id = $1`, id)
	case domain.ChallengeWeekly:
		return r.getWeekly(ctx, `WHERE id = $1`, id)
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
}

// GetDailyByDate retrieves the daily challenge for a date (YYYY-MM-DD)
func (r *Repository) GetDailyByDate(ctx context.Context, date string) (*domain.Challenge, error) {
	return r.getDaily(ctx, `WHERE date = $1::date`, date)
}

// GetWeeklyByWeek retrieves the weekly challenge for an ISO year and week
func (r *Repository) GetWeeklyByWeek(ctx context.Context, year, week int) (*domain.Challenge, error) {
	return r.getWeekly(ctx, `WHERE year = $1 AND week = $2`, year, week)
}

func (r *Repository) getDaily(ctx context.Context, where string, args ...interface{}) (*domain.Challenge, error) {
	query := `
		SELECT id, to_char(date, 'YYYY-MM-DD'), seed, boss, created_at
		FROM daily_challenges
	` + where

	c := domain.Challenge{Kind: domain.ChallengeDaily}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&c.ID,
		&c.Date,
		&c.Seed,
		&c.Boss,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("getting daily challenge: %w", err)
	}
	return &c, nil
}

func (r *Repository) getWeekly(ctx context.Context, where string, args ...interface{}) (*domain.Challenge, error) {
	query := `
		SELECT id, year, week, seed, boss, character, created_at
		FROM weekly_challenges
	` + where

	c := domain.Challenge{Kind: domain.ChallengeWeekly}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&c.ID,
		&c.Year,
		&c.Week,
		&c.Seed,
		&c.Boss,
		&c.Character,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("getting weekly challenge: %w", err)
	}
	return &c, nil
}

// UpsertUser records the player's current e-mail address
func (r *Repository) UpsertUser(ctx context.Context, user domain.User) error {
	query := `
		INSERT INTO users (id, email)
		VALUES ($1, $2)
		ON CONFLICT (id)
		DO UPDATE SET email = EXCLUDED.email, updated_at = CURRENT_TIMESTAMP
		WHERE users.email IS DISTINCT FROM EXCLUDED.email
	`
	if _, err := r.pool.Exec(ctx, query, user.ID, user.Email); err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// InsertRecord stores a run and fills in its ID and creation time
func (r *Repository) InsertRecord(ctx context.Context, kind domain.ChallengeKind, rec *domain.SubmissionRecord) error {
	_, records, err := tables(kind)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ` + records + ` (challenge_id, user_id, time, character, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err = r.pool.QueryRow(ctx, query,
		rec.ChallengeID,
		rec.PlayerID,
		rec.Time,
		rec.Character,
		[]byte(rec.Data),
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting %s record: %w", kind, err)
	}
	return nil
}

// ListRecords returns every run for a challenge in submission order
func (r *Repository) ListRecords(ctx context.Context, kind domain.ChallengeKind, challengeID int64) ([]domain.SubmissionRecord, error) {
	_, records, err := tables(kind)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT r.id, r.challenge_id, r.user_id, u.email, r.time, r.character, r.data, r.created_at
		FROM ` + records + ` r
		JOIN users u ON u.id = r.user_id
		WHERE r.challenge_id = $1
		ORDER BY r.created_at, r.id
	`
	rows, err := r.pool.Query(ctx, query, challengeID)
	if err != nil {
		return nil, fmt.Errorf("listing %s records: %w", kind, err)
	}
	defer rows.Close()

	var out []domain.SubmissionRecord
	for rows.Next() {
		var rec domain.SubmissionRecord
		var data []byte
		err := rows.Scan(
			&rec.ID,
			&rec.ChallengeID,
			&rec.PlayerID,
			&rec.PlayerDisplayID,
			&rec.Time,
			&rec.Character,
			&data,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec.Data = data
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
