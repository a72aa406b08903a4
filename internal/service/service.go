package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/daily-challenge/internal/clock"
	"github.com/daily-challenge/internal/config"
	"github.com/daily-challenge/internal/domain"
	"github.com/daily-challenge/internal/leaderboard"
	"github.com/daily-challenge/internal/mask"
	"github.com/daily-challenge/internal/seed"
)

// currentChallengeTTL bounds how long a period's challenge lookup is cached.
// Keys include the period, so a stale entry can never serve the wrong day.
const currentChallengeTTL = time.Hour

// Store is the persistent challenge and record storage
type Store interface {
	CreateChallenge(ctx context.Context, c *domain.Challenge) error
	UpdateDailyChallenge(ctx context.Context, c *domain.Challenge) error
	GetChallenge(ctx context.Context, kind domain.ChallengeKind, id int64) (*domain.Challenge, error)
	GetDailyByDate(ctx context.Context, date string) (*domain.Challenge, error)
	GetWeeklyByWeek(ctx context.Context, year, week int) (*domain.Challenge, error)
	UpsertUser(ctx context.Context, user domain.User) error
	InsertRecord(ctx context.Context, kind domain.ChallengeKind, rec *domain.SubmissionRecord) error
	ListRecords(ctx context.Context, kind domain.ChallengeKind, challengeID int64) ([]domain.SubmissionRecord, error)
}

// Cache holds derived data that can always be rebuilt from the Store
type Cache interface {
	GetLeaderboard(ctx context.Context, kind domain.ChallengeKind, challengeID int64) (*domain.Leaderboard, error)
	SetLeaderboard(ctx context.Context, lb *domain.Leaderboard, ttl time.Duration) error
	InvalidateLeaderboard(ctx context.Context, kind domain.ChallengeKind, challengeID int64) error
	GetCurrentChallenge(ctx context.Context, kind domain.ChallengeKind, period string) (*domain.Challenge, error)
	SetCurrentChallenge(ctx context.Context, c *domain.Challenge, ttl time.Duration) error
	InvalidateCurrentChallenge(ctx context.Context, kind domain.ChallengeKind, period string) error
}

// Broadcaster pushes leaderboard changes to live subscribers
type Broadcaster interface {
	BroadcastLeaderboard(lb *domain.Leaderboard)
}

// Random is the randomness used to pick seeds, bosses and characters.
// *rand.Rand satisfies it.
type Random interface {
	Uint32() uint32
	IntN(n int) int
}

type globalRandom struct{}

func (globalRandom) Uint32() uint32  { return rand.Uint32() }
func (globalRandom) IntN(n int) int { return rand.IntN(n) }

// ChallengeService provides business logic for challenges and their leaderboards
type ChallengeService struct {
	store    Store
	cache    Cache
	hub      Broadcaster
	calendar *clock.Calendar
	config   *config.ChallengeConfig
	masker   mask.Masker
	rng      Random
	logger   *slog.Logger
}

// NewChallengeService creates a new challenge service
func NewChallengeService(
	store Store,
	cache Cache,
	calendar *clock.Calendar,
	cfg *config.ChallengeConfig,
	logger *slog.Logger,
) *ChallengeService {
	return &ChallengeService{
		store:    store,
		cache:    cache,
		calendar: calendar,
		config:   cfg,
		masker:   mask.Default(),
		rng:      globalRandom{},
		logger:   logger,
	}
}

// SetHub sets the broadcaster notified of leaderboard changes
func (s *ChallengeService) SetHub(hub Broadcaster) {
	s.hub = hub
}

// SetRandom replaces the randomness source
func (s *ChallengeService) SetRandom(rng Random) {
	s.rng = rng
}

// Now returns the server time in the service timezone
func (s *ChallengeService) Now() time.Time {
	return s.calendar.Now()
}

// CreateNextDaily schedules tomorrow's daily challenge with a fresh seed and
// a random boss
func (s *ChallengeService) CreateNextDaily(ctx context.Context) (*domain.Challenge, error) {
	if len(s.config.Bosses) == 0 {
		return nil, errors.New("no bosses configured")
	}

	c := &domain.Challenge{
		Kind: domain.ChallengeDaily,
		Date: s.calendar.Tomorrow(),
		Seed: seed.GenerateWith(s.rng),
		Boss: s.config.Bosses[s.rng.IntN(len(s.config.Bosses))],
	}
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("creating next daily challenge: %w", err)
	}

	s.logger.Info("daily challenge created", "challenge_id", c.ID, "date", c.Date, "boss", c.Boss)
	return c, nil
}

// CreateNextWeekly schedules next ISO week's challenge with a fresh seed
// and a random starting character
func (s *ChallengeService) CreateNextWeekly(ctx context.Context) (*domain.Challenge, error) {
	character, err := s.randomCharacter()
	if err != nil {
		return nil, err
	}

	year, week := s.calendar.NextWeek()
	c := &domain.Challenge{
		Kind:      domain.ChallengeWeekly,
		Year:      year,
		Week:      week,
		Seed:      seed.GenerateWith(s.rng),
		Boss:      s.config.WeeklyBoss,
		Character: &character,
	}
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("creating next weekly challenge: %w", err)
	}

	s.logger.Info("weekly challenge created", "challenge_id", c.ID, "year", year, "week", week, "character", character)
	return c, nil
}

// randomCharacter picks uniformly among the playable characters
func (s *ChallengeService) randomCharacter() (int, error) {
	ignored := make(map[int]bool, len(s.config.IgnoredCharacters))
	for _, c := range s.config.IgnoredCharacters {
		ignored[c] = true
	}

	candidates := make([]int, 0, s.config.MaxCharacter+1)
	for c := 0; c <= s.config.MaxCharacter; c++ {
		if !ignored[c] {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return 0, errors.New("no playable characters configured")
	}
	return candidates[s.rng.IntN(len(candidates))], nil
}

// validateDaily checks an admin-supplied daily challenge
func (s *ChallengeService) validateDaily(req domain.CreateDailyRequest) error {
	if req.Date == "" || req.Seed == "" || req.Boss == "" {
		return domain.ErrMissingFields
	}
	if !seed.Validate(req.Seed) {
		return domain.ErrInvalidSeed
	}
	future, err := s.calendar.IsFutureDate(req.Date)
	if err != nil {
		return err
	}
	if !future {
		return domain.ErrPastDate
	}
	return nil
}

// CreateDaily schedules a daily challenge for a future date
func (s *ChallengeService) CreateDaily(ctx context.Context, req domain.CreateDailyRequest) (*domain.Challenge, error) {
	if err := s.validateDaily(req); err != nil {
		return nil, err
	}

	c := &domain.Challenge{
		Kind: domain.ChallengeDaily,
		Date: req.Date,
		Seed: req.Seed,
		Boss: req.Boss,
	}
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("creating daily challenge: %w", err)
	}
	return c, nil
}

// UpdateDaily rewrites a daily challenge that has not started yet
func (s *ChallengeService) UpdateDaily(ctx context.Context, id int64, req domain.CreateDailyRequest) (*domain.Challenge, error) {
	if err := s.validateDaily(req); err != nil {
		return nil, err
	}

	existing, err := s.store.GetChallenge(ctx, domain.ChallengeDaily, id)
	if err != nil {
		return nil, fmt.Errorf("getting daily challenge: %w", err)
	}
	future, err := s.calendar.IsFutureDate(existing.Date)
	if err != nil {
		return nil, err
	}
	if !future {
		return nil, domain.ErrPastDate
	}

	updated := &domain.Challenge{
		ID:        id,
		Kind:      domain.ChallengeDaily,
		Date:      req.Date,
		Seed:      req.Seed,
		Boss:      req.Boss,
		CreatedAt: existing.CreatedAt,
	}
	if err := s.store.UpdateDailyChallenge(ctx, updated); err != nil {
		return nil, fmt.Errorf("updating daily challenge: %w", err)
	}

	for _, period := range []string{existing.Date, updated.Date} {
		if err := s.cache.InvalidateCurrentChallenge(ctx, domain.ChallengeDaily, period); err != nil {
			s.logger.Warn("failed to invalidate cached challenge", "period", period, "error", err)
		}
	}
	return updated, nil
}

// CurrentChallenge returns today's daily or this week's weekly challenge
func (s *ChallengeService) CurrentChallenge(ctx context.Context, kind domain.ChallengeKind) (*domain.Challenge, error) {
	var period string
	switch kind {
	case domain.ChallengeDaily:
		period = s.calendar.Today()
	case domain.ChallengeWeekly:
		period = domain.WeekPeriod(s.calendar.ThisWeek())
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}

	cached, err := s.cache.GetCurrentChallenge(ctx, kind, period)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		s.logger.Warn("failed to read cached challenge", "kind", kind, "error", err)
	}

	var c *domain.Challenge
	if kind == domain.ChallengeDaily {
		c, err = s.store.GetDailyByDate(ctx, period)
	} else {
		year, week := s.calendar.ThisWeek()
		c, err = s.store.GetWeeklyByWeek(ctx, year, week)
	}
	if err != nil {
		return nil, fmt.Errorf("getting current %s challenge: %w", kind, err)
	}

	if err := s.cache.SetCurrentChallenge(ctx, c, currentChallengeTTL); err != nil {
		s.logger.Warn("failed to cache current challenge", "kind", kind, "error", err)
	}
	return c, nil
}

// SubmitDailyRecord stores a run for today's daily challenge
func (s *ChallengeService) SubmitDailyRecord(ctx context.Context, user domain.User, req domain.RecordSubmission) (*domain.SubmissionRecord, error) {
	return s.submit(ctx, domain.ChallengeDaily, user, req)
}

// SubmitWeeklyRecord stores a run for this week's weekly challenge
func (s *ChallengeService) SubmitWeeklyRecord(ctx context.Context, user domain.User, req domain.RecordSubmission) (*domain.SubmissionRecord, error) {
	return s.submit(ctx, domain.ChallengeWeekly, user, req)
}

// SubmitRecord stores a run delivered by the ingestion pipeline
func (s *ChallengeService) SubmitRecord(ctx context.Context, msg domain.RecordMessage) (*domain.SubmissionRecord, error) {
	rec, err := s.ingest(ctx, msg)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, msg.Kind, rec.ChallengeID)
	return rec, nil
}

// challengeKey identifies a challenge across both kinds
type challengeKey struct {
	kind domain.ChallengeKind
	id   int64
}

// SubmitRecordBatch submits multiple runs, continuing past failures. Each
// touched leaderboard is rebuilt and broadcast once after the batch.
func (s *ChallengeService) SubmitRecordBatch(ctx context.Context, batch []domain.RecordMessage) error {
	var touched []challengeKey
	seen := make(map[challengeKey]bool)

	for _, msg := range batch {
		rec, err := s.ingest(ctx, msg)
		if err != nil {
			s.logger.Error("failed to submit record in batch",
				"kind", msg.Kind,
				"user_id", msg.UserID,
				"error", err,
			)
			continue
		}

		key := challengeKey{kind: msg.Kind, id: rec.ChallengeID}
		if !seen[key] {
			seen[key] = true
			touched = append(touched, key)
		}
	}

	for _, key := range touched {
		s.publish(ctx, key.kind, key.id)
	}
	return nil
}

func (s *ChallengeService) ingest(ctx context.Context, msg domain.RecordMessage) (*domain.SubmissionRecord, error) {
	if msg.UserID == "" {
		return nil, domain.ErrMissingFields
	}
	user := domain.User{ID: msg.UserID, Email: msg.Email}
	return s.save(ctx, msg.Kind, user, msg.RecordSubmission)
}

func (s *ChallengeService) submit(ctx context.Context, kind domain.ChallengeKind, user domain.User, req domain.RecordSubmission) (*domain.SubmissionRecord, error) {
	rec, err := s.save(ctx, kind, user, req)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, kind, rec.ChallengeID)
	return rec, nil
}

// save validates and stores a run, then drops the cached leaderboard
func (s *ChallengeService) save(ctx context.Context, kind domain.ChallengeKind, user domain.User, req domain.RecordSubmission) (*domain.SubmissionRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	// Reject malformed seeds before touching storage.
	if !seed.Validate(req.Seed) {
		return nil, domain.ErrInvalidSeed
	}

	challenge, err := s.CurrentChallenge(ctx, kind)
	if err != nil {
		return nil, err
	}
	if challenge.Seed != req.Seed {
		return nil, fmt.Errorf("%w: seed does not match the current %s challenge", domain.ErrChallengeNotFound, kind)
	}

	if err := s.store.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("saving user: %w", err)
	}

	rec := &domain.SubmissionRecord{
		ChallengeID:     challenge.ID,
		PlayerID:        user.ID,
		PlayerDisplayID: user.Email,
		Time:            req.Time,
		Data:            req.Data,
		Character:       req.Character,
	}
	if err := s.store.InsertRecord(ctx, kind, rec); err != nil {
		return nil, fmt.Errorf("saving record: %w", err)
	}

	s.logger.Debug("record submitted", "kind", kind, "challenge_id", challenge.ID, "record_id", rec.ID)

	if err := s.cache.InvalidateLeaderboard(ctx, kind, challenge.ID); err != nil {
		s.logger.Warn("failed to invalidate leaderboard", "challenge_id", challenge.ID, "error", err)
	}
	return rec, nil
}

// publish recomputes a leaderboard and pushes it to subscribers. It leaves
// the cache alone; the next read or refresh repopulates it.
func (s *ChallengeService) publish(ctx context.Context, kind domain.ChallengeKind, challengeID int64) {
	if s.hub == nil {
		return
	}
	lb, err := s.compute(ctx, kind, challengeID)
	if err != nil {
		s.logger.Warn("failed to rebuild leaderboard after submit", "challenge_id", challengeID, "error", err)
		return
	}
	s.hub.BroadcastLeaderboard(lb)
}

// Leaderboard returns each player's best run for a challenge, fastest first
func (s *ChallengeService) Leaderboard(ctx context.Context, kind domain.ChallengeKind, challengeID int64) (*domain.Leaderboard, error) {
	cached, err := s.cache.GetLeaderboard(ctx, kind, challengeID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		s.logger.Warn("failed to read cached leaderboard", "challenge_id", challengeID, "error", err)
	}

	if _, err := s.store.GetChallenge(ctx, kind, challengeID); err != nil {
		return nil, fmt.Errorf("getting %s challenge: %w", kind, err)
	}
	return s.rebuild(ctx, kind, challengeID)
}

// rebuild reduces the stored records and refreshes the cache
func (s *ChallengeService) rebuild(ctx context.Context, kind domain.ChallengeKind, challengeID int64) (*domain.Leaderboard, error) {
	lb, err := s.compute(ctx, kind, challengeID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetLeaderboard(ctx, lb, s.config.LeaderboardTTL); err != nil {
		s.logger.Warn("failed to cache leaderboard", "challenge_id", challengeID, "error", err)
	}
	return lb, nil
}

// compute reduces the stored records of a challenge
func (s *ChallengeService) compute(ctx context.Context, kind domain.ChallengeKind, challengeID int64) (*domain.Leaderboard, error) {
	records, err := s.store.ListRecords(ctx, kind, challengeID)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	entries := leaderboard.Reduce(records, s.masker)
	leaderboard.SortByTime(entries)

	return &domain.Leaderboard{
		ChallengeID:  challengeID,
		Kind:         kind,
		Entries:      entries,
		TotalPlayers: len(entries),
		GeneratedAt:  s.calendar.Now(),
	}, nil
}

// RefreshCurrent rebuilds the leaderboards of the current daily and weekly
// challenges and pushes them to subscribers. Periods without a challenge
// are skipped.
func (s *ChallengeService) RefreshCurrent(ctx context.Context) (int, error) {
	refreshed := 0
	var errs []error
	for _, kind := range []domain.ChallengeKind{domain.ChallengeDaily, domain.ChallengeWeekly} {
		c, err := s.CurrentChallenge(ctx, kind)
		if err != nil {
			if domain.IsNotFoundError(err) {
				continue
			}
			errs = append(errs, err)
			continue
		}

		lb, err := s.rebuild(ctx, kind, c.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if s.hub != nil {
			s.hub.BroadcastLeaderboard(lb)
		}
		refreshed++
	}
	return refreshed, errors.Join(errs...)
}

// InspectSeed reports whether a seed is well formed and carries a valid
// checksum
func (s *ChallengeService) InspectSeed(code string) domain.SeedReport {
	_, err := seed.Decode(code)
	return domain.SeedReport{
		Seed:          code,
		WellFormed:    seed.Validate(code),
		ChecksumValid: err == nil,
	}
}
