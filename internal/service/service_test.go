package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/daily-challenge/internal/clock"
	"github.com/daily-challenge/internal/config"
	"github.com/daily-challenge/internal/domain"
	"github.com/daily-challenge/internal/redis"
	"github.com/daily-challenge/internal/seed"
)

type memoryStore struct {
	mu         sync.Mutex
	nextID     int64
	challenges map[domain.ChallengeKind]map[int64]*domain.Challenge
	records    map[domain.ChallengeKind][]domain.SubmissionRecord
	users      map[string]domain.User
	calls      map[string]int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		challenges: map[domain.ChallengeKind]map[int64]*domain.Challenge{
			domain.ChallengeDaily:  {},
			domain.ChallengeWeekly: {},
		},
		records: map[domain.ChallengeKind][]domain.SubmissionRecord{},
		users:   map[string]domain.User{},
		calls:   map[string]int{},
	}
}

func (m *memoryStore) called(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *memoryStore) CreateChallenge(_ context.Context, c *domain.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CreateChallenge"]++
	for _, existing := range m.challenges[c.Kind] {
		if existing.Period() == c.Period() {
			return domain.ErrChallengeExists
		}
	}
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now()
	stored := *c
	m.challenges[c.Kind][c.ID] = &stored
	return nil
}

func (m *memoryStore) UpdateDailyChallenge(_ context.Context, c *domain.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["UpdateDailyChallenge"]++
	if _, ok := m.challenges[domain.ChallengeDaily][c.ID]; !ok {
		return domain.ErrChallengeNotFound
	}
	stored := *c
	m.challenges[domain.ChallengeDaily][c.ID] = &stored
	return nil
}

func (m *memoryStore) GetChallenge(_ context.Context, kind domain.ChallengeKind, id int64) (*domain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetChallenge"]++
	c, ok := m.challenges[kind][id]
	if !ok {
		return nil, domain.ErrChallengeNotFound
	}
	out := *c
	return &out, nil
}

func (m *memoryStore) find(kind domain.ChallengeKind, period string) (*domain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["find"]++
	for _, c := range m.challenges[kind] {
		if c.Period() == period {
			out := *c
			return &out, nil
		}
	}
	return nil, domain.ErrChallengeNotFound
}

func (m *memoryStore) GetDailyByDate(_ context.Context, date string) (*domain.Challenge, error) {
	return m.find(domain.ChallengeDaily, date)
}

func (m *memoryStore) GetWeeklyByWeek(_ context.Context, year, week int) (*domain.Challenge, error) {
	return m.find(domain.ChallengeWeekly, domain.WeekPeriod(year, week))
}

func (m *memoryStore) UpsertUser(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["UpsertUser"]++
	m.users[user.ID] = user
	return nil
}

func (m *memoryStore) InsertRecord(_ context.Context, kind domain.ChallengeKind, rec *domain.SubmissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["InsertRecord"]++
	m.nextID++
	rec.ID = m.nextID
	rec.CreatedAt = time.Now()
	m.records[kind] = append(m.records[kind], *rec)
	return nil
}

func (m *memoryStore) ListRecords(_ context.Context, kind domain.ChallengeKind, challengeID int64) ([]domain.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ListRecords"]++
	var out []domain.SubmissionRecord
	for _, r := range m.records[kind] {
		if r.ChallengeID == challengeID {
			r.PlayerDisplayID = m.users[r.PlayerID].Email
			out = append(out, r)
		}
	}
	return out, nil
}

type recordingHub struct {
	mu  sync.Mutex
	got []*domain.Leaderboard
}

func (h *recordingHub) BroadcastLeaderboard(lb *domain.Leaderboard) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, lb)
}

func (h *recordingHub) last() *domain.Leaderboard {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.got) == 0 {
		return nil
	}
	return h.got[len(h.got)-1]
}

type ChallengeServiceTestSuite struct {
	suite.Suite
	mr      *miniredis.Miniredis
	client  *goredis.Client
	store   *memoryStore
	hub     *recordingHub
	cfg     config.ChallengeConfig
	service *ChallengeService
	ctx     context.Context
	// 2025-06-15 12:00 in Seoul, a Sunday in ISO week 2025-W24
	now time.Time
}

func (s *ChallengeServiceTestSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.mr = mr
	s.client = goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s.now = time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
	calendar, err := clock.NewCalendar(clock.Fixed(s.now), "Asia/Seoul")
	s.Require().NoError(err)

	s.cfg = config.DefaultConfig().Challenge
	s.cfg.LeaderboardTTL = time.Minute
	cfg := s.cfg
	cfg.IgnoredCharacters = append([]int(nil), s.cfg.IgnoredCharacters...)

	s.store = newMemoryStore()
	s.hub = &recordingHub{}
	s.service = NewChallengeService(s.store, redis.NewCacheFromClient(s.client, logger), calendar, &cfg, logger)
	s.service.SetHub(s.hub)
	s.service.SetRandom(rand.New(rand.NewPCG(1, 2)))
	s.ctx = context.Background()
}

func (s *ChallengeServiceTestSuite) TearDownTest() {
	s.client.Close()
	s.mr.Close()
}

func TestChallengeServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ChallengeServiceTestSuite))
}

func (s *ChallengeServiceTestSuite) seedCurrent() (daily, weekly *domain.Challenge) {
	daily = &domain.Challenge{Kind: domain.ChallengeDaily, Date: "2025-06-15", Seed: "D1PWXBN9", Boss: "mother"}
	s.Require().NoError(s.store.CreateChallenge(s.ctx, daily))
	character := 4
	weekly = &domain.Challenge{Kind: domain.ChallengeWeekly, Year: 2025, Week: 24, Seed: "B91199AC", Boss: "perfection", Character: &character}
	s.Require().NoError(s.store.CreateChallenge(s.ctx, weekly))
	return daily, weekly
}

func submission(seed string, t float64) domain.RecordSubmission {
	return domain.RecordSubmission{Time: t, Seed: seed, Data: json.RawMessage(`{"route":"womb"}`)}
}

func (s *ChallengeServiceTestSuite) TestCreateNextDaily() {
	c, err := s.service.CreateNextDaily(s.ctx)
	s.Require().NoError(err)

	s.Equal(domain.ChallengeDaily, c.Kind)
	s.Equal("2025-06-16", c.Date)
	s.True(seed.Validate(c.Seed))
	s.Contains(s.cfg.Bosses, c.Boss)
	s.NotZero(c.ID)

	_, err = s.service.CreateNextDaily(s.ctx)
	s.ErrorIs(err, domain.ErrChallengeExists)
}

func (s *ChallengeServiceTestSuite) TestCreateNextWeekly() {
	c, err := s.service.CreateNextWeekly(s.ctx)
	s.Require().NoError(err)

	s.Equal(2025, c.Year)
	s.Equal(25, c.Week)
	s.Equal("perfection", c.Boss)
	s.True(seed.Validate(c.Seed))
	s.Require().NotNil(c.Character)
	s.GreaterOrEqual(*c.Character, 0)
	s.LessOrEqual(*c.Character, s.cfg.MaxCharacter)
	s.NotContains(s.cfg.IgnoredCharacters, *c.Character)
}

func (s *ChallengeServiceTestSuite) TestRandomCharacterSkipsIgnored() {
	s.service.config.MaxCharacter = 3
	s.service.config.IgnoredCharacters = []int{0, 1, 3}
	for i := 0; i < 50; i++ {
		c, err := s.service.randomCharacter()
		s.Require().NoError(err)
		s.Equal(2, c)
	}

	s.service.config.IgnoredCharacters = []int{0, 1, 2, 3}
	_, err := s.service.randomCharacter()
	s.Error(err)
}

func (s *ChallengeServiceTestSuite) TestCreateDailyValidation() {
	tests := []struct {
		name string
		req  domain.CreateDailyRequest
		want error
	}{
		{"missing seed", domain.CreateDailyRequest{Date: "2025-06-20", Boss: "mother"}, domain.ErrMissingFields},
		{"bad seed", domain.CreateDailyRequest{Date: "2025-06-20", Seed: "IIIIIIII", Boss: "mother"}, domain.ErrInvalidSeed},
		{"today", domain.CreateDailyRequest{Date: "2025-06-15", Seed: "D1PWXBN9", Boss: "mother"}, domain.ErrPastDate},
		{"past", domain.CreateDailyRequest{Date: "2025-01-01", Seed: "D1PWXBN9", Boss: "mother"}, domain.ErrPastDate},
		{"bad date", domain.CreateDailyRequest{Date: "June 20", Seed: "D1PWXBN9", Boss: "mother"}, domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		_, err := s.service.CreateDaily(s.ctx, tt.req)
		s.ErrorIs(err, tt.want, tt.name)
		s.True(domain.IsValidationError(err), tt.name)
	}
	s.Zero(s.store.called("CreateChallenge"))

	c, err := s.service.CreateDaily(s.ctx, domain.CreateDailyRequest{Date: "2025-06-20", Seed: "D1PWXBN9", Boss: "mother"})
	s.Require().NoError(err)
	s.Equal("2025-06-20", c.Date)
}

func (s *ChallengeServiceTestSuite) TestUpdateDaily() {
	future, err := s.service.CreateDaily(s.ctx, domain.CreateDailyRequest{Date: "2025-06-20", Seed: "D1PWXBN9", Boss: "mother"})
	s.Require().NoError(err)

	updated, err := s.service.UpdateDaily(s.ctx, future.ID, domain.CreateDailyRequest{Date: "2025-06-21", Seed: "B91199JA", Boss: "delirium"})
	s.Require().NoError(err)
	s.Equal("2025-06-21", updated.Date)

	stored, err := s.store.GetChallenge(s.ctx, domain.ChallengeDaily, future.ID)
	s.Require().NoError(err)
	s.Equal("B91199JA", stored.Seed)
	s.Equal("delirium", stored.Boss)

	today, _ := s.seedCurrent()
	_, err = s.service.UpdateDaily(s.ctx, today.ID, domain.CreateDailyRequest{Date: "2025-06-22", Seed: "B91199JA", Boss: "mother"})
	s.ErrorIs(err, domain.ErrPastDate)

	_, err = s.service.UpdateDaily(s.ctx, 999, domain.CreateDailyRequest{Date: "2025-06-22", Seed: "B91199JA", Boss: "mother"})
	s.ErrorIs(err, domain.ErrChallengeNotFound)
}

func (s *ChallengeServiceTestSuite) TestSubmitRejectsMalformedSeedBeforeStorage() {
	s.seedCurrent()
	user := domain.User{ID: "u1", Email: "johndoe@example.com"}

	_, err := s.service.SubmitDailyRecord(s.ctx, user, submission("D1PWXBN5", 10))
	s.ErrorIs(err, domain.ErrInvalidSeed)

	_, err = s.service.SubmitDailyRecord(s.ctx, user, domain.RecordSubmission{Seed: "D1PWXBN9", Data: json.RawMessage(`{}`)})
	s.ErrorIs(err, domain.ErrMissingFields)

	s.Zero(s.store.called("find"))
	s.Zero(s.store.called("InsertRecord"))
}

func (s *ChallengeServiceTestSuite) TestSubmitRequiresCurrentSeed() {
	user := domain.User{ID: "u1", Email: "johndoe@example.com"}

	_, err := s.service.SubmitDailyRecord(s.ctx, user, submission("D1PWXBN9", 10))
	s.ErrorIs(err, domain.ErrChallengeNotFound)

	s.seedCurrent()
	_, err = s.service.SubmitDailyRecord(s.ctx, user, submission("B91199JA", 10))
	s.ErrorIs(err, domain.ErrChallengeNotFound)

	// The weekly seed is not valid for the daily challenge.
	_, err = s.service.SubmitDailyRecord(s.ctx, user, submission("B91199AC", 10))
	s.ErrorIs(err, domain.ErrChallengeNotFound)
	s.Zero(s.store.called("InsertRecord"))
}

func (s *ChallengeServiceTestSuite) TestSubmitAndLeaderboard() {
	_, weekly := s.seedCurrent()
	alice := domain.User{ID: "alice-id", Email: "alice@example.com"}
	bob := domain.User{ID: "bob-id", Email: "bob.builder@example.com"}

	for _, step := range []struct {
		user domain.User
		time float64
	}{
		{alice, 50},
		{alice, 30},
		{bob, 40},
	} {
		rec, err := s.service.SubmitWeeklyRecord(s.ctx, step.user, submission("B91199AC", step.time))
		s.Require().NoError(err)
		s.Equal(weekly.ID, rec.ChallengeID)
		s.Equal(step.user.ID, rec.PlayerID)
	}

	lb, err := s.service.Leaderboard(s.ctx, domain.ChallengeWeekly, weekly.ID)
	s.Require().NoError(err)
	s.Require().Len(lb.Entries, 2)
	s.Equal(2, lb.TotalPlayers)
	s.Equal(30.0, lb.Entries[0].Time)
	s.Equal("al***@example.com", lb.Entries[0].Nickname)
	s.Equal(40.0, lb.Entries[1].Time)
	s.Equal("bo*********@example.com", lb.Entries[1].Nickname)

	raw, err := json.Marshal(lb)
	s.Require().NoError(err)
	s.NotContains(string(raw), "alice-id")
	s.NotContains(string(raw), "alice@example.com")

	pushed := s.hub.last()
	s.Require().NotNil(pushed)
	s.Equal(weekly.ID, pushed.ChallengeID)
	s.Len(pushed.Entries, 2)
}

func (s *ChallengeServiceTestSuite) TestLeaderboardIsCached() {
	daily, _ := s.seedCurrent()
	s.service.SetHub(nil)

	_, err := s.service.SubmitDailyRecord(s.ctx, domain.User{ID: "u1", Email: "first@example.com"}, submission("D1PWXBN9", 77))
	s.Require().NoError(err)

	lb, err := s.service.Leaderboard(s.ctx, domain.ChallengeDaily, daily.ID)
	s.Require().NoError(err)
	s.Len(lb.Entries, 1)
	listed := s.store.called("ListRecords")

	_, err = s.service.Leaderboard(s.ctx, domain.ChallengeDaily, daily.ID)
	s.Require().NoError(err)
	s.Equal(listed, s.store.called("ListRecords"))

	// A new submission invalidates the cached copy.
	_, err = s.service.SubmitDailyRecord(s.ctx, domain.User{ID: "u2", Email: "second@example.com"}, submission("D1PWXBN9", 12))
	s.Require().NoError(err)

	lb, err = s.service.Leaderboard(s.ctx, domain.ChallengeDaily, daily.ID)
	s.Require().NoError(err)
	s.Require().Len(lb.Entries, 2)
	s.Equal(12.0, lb.Entries[0].Time)
}

func (s *ChallengeServiceTestSuite) TestLeaderboardEmptyAndUnknown() {
	daily, _ := s.seedCurrent()

	lb, err := s.service.Leaderboard(s.ctx, domain.ChallengeDaily, daily.ID)
	s.Require().NoError(err)
	s.NotNil(lb.Entries)
	s.Empty(lb.Entries)

	_, err = s.service.Leaderboard(s.ctx, domain.ChallengeDaily, 404)
	s.ErrorIs(err, domain.ErrChallengeNotFound)
}

func (s *ChallengeServiceTestSuite) TestCurrentChallengeCached() {
	daily, _ := s.seedCurrent()

	c, err := s.service.CurrentChallenge(s.ctx, domain.ChallengeDaily)
	s.Require().NoError(err)
	s.Equal(daily.ID, c.ID)
	s.True(s.mr.Exists("challenge:daily:current:2025-06-15"))

	c, err = s.service.CurrentChallenge(s.ctx, domain.ChallengeDaily)
	s.Require().NoError(err)
	s.Equal(daily.ID, c.ID)
	s.Equal(1, s.store.called("find"))

	_, err = s.service.CurrentChallenge(s.ctx, "monthly")
	s.ErrorIs(err, domain.ErrInvalidKind)
}

func (s *ChallengeServiceTestSuite) TestSubmitRecordBatchContinuesPastFailures() {
	_, weekly := s.seedCurrent()
	batch := []domain.RecordMessage{
		{Kind: domain.ChallengeWeekly, UserID: "u1", Email: "one@example.com", RecordSubmission: submission("B91199AC", 20)},
		{Kind: domain.ChallengeWeekly, UserID: "", RecordSubmission: submission("B91199AC", 10)},
		{Kind: domain.ChallengeWeekly, UserID: "u2", Email: "two@example.com", RecordSubmission: submission("5555555", 10)},
		{Kind: domain.ChallengeWeekly, UserID: "u3", Email: "three@example.com", RecordSubmission: submission("B91199AC", 15)},
	}

	s.Require().NoError(s.service.SubmitRecordBatch(s.ctx, batch))
	s.Equal(2, s.store.called("InsertRecord"))

	lb, err := s.service.Leaderboard(s.ctx, domain.ChallengeWeekly, weekly.ID)
	s.Require().NoError(err)
	s.Len(lb.Entries, 2)
}

func (s *ChallengeServiceTestSuite) TestRefreshCurrent() {
	n, err := s.service.RefreshCurrent(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	daily, weekly := s.seedCurrent()
	n, err = s.service.RefreshCurrent(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.True(s.mr.Exists(fmt.Sprintf("challenge:daily:%d:leaderboard", daily.ID)))
	s.True(s.mr.Exists(fmt.Sprintf("challenge:weekly:%d:leaderboard", weekly.ID)))
}

func (s *ChallengeServiceTestSuite) TestInspectSeed() {
	r := s.service.InspectSeed("D1PWXBN9")
	s.True(r.WellFormed)
	s.True(r.ChecksumValid)

	r = s.service.InspectSeed("AAAAAAAA")
	s.True(r.WellFormed)
	s.False(r.ChecksumValid)

	r = s.service.InspectSeed("abc")
	s.False(r.WellFormed)
	s.False(r.ChecksumValid)
}

func (s *ChallengeServiceTestSuite) TestNow() {
	s.Equal(12, s.service.Now().Hour())
	s.Equal("Asia/Seoul", s.service.Now().Location().String())
}

func (s *ChallengeServiceTestSuite) TestSubmitRecordBatchRebuildsOncePerChallenge() {
	daily, weekly := s.seedCurrent()

	var batch []domain.RecordMessage
	for i := 0; i < 5; i++ {
		batch = append(batch, domain.RecordMessage{
			Kind:             domain.ChallengeDaily,
			UserID:           fmt.Sprintf("u%d", i),
			Email:            fmt.Sprintf("player%d@example.com", i),
			RecordSubmission: submission("D1PWXBN9", float64(100-i)),
		})
	}
	batch = append(batch, domain.RecordMessage{
		Kind:             domain.ChallengeWeekly,
		UserID:           "w1",
		Email:            "weekly@example.com",
		RecordSubmission: submission("B91199AC", 50),
	})

	s.Require().NoError(s.service.SubmitRecordBatch(s.ctx, batch))
	s.Equal(6, s.store.called("InsertRecord"))
	s.Equal(2, s.store.called("ListRecords"))

	s.hub.mu.Lock()
	pushed := append([]*domain.Leaderboard(nil), s.hub.got...)
	s.hub.mu.Unlock()
	s.Require().Len(pushed, 2)
	s.Equal(daily.ID, pushed[0].ChallengeID)
	s.Len(pushed[0].Entries, 5)
	s.Equal(96.0, pushed[0].Entries[0].Time)
	s.Equal(weekly.ID, pushed[1].ChallengeID)
}

func (s *ChallengeServiceTestSuite) TestSubmitLeavesCacheToReaders() {
	daily, _ := s.seedCurrent()
	key := fmt.Sprintf("challenge:daily:%d:leaderboard", daily.ID)

	_, err := s.service.SubmitDailyRecord(s.ctx, domain.User{ID: "u1", Email: "first@example.com"}, submission("D1PWXBN9", 40))
	s.Require().NoError(err)
	s.NotNil(s.hub.last())
	s.False(s.mr.Exists(key))

	_, err = s.service.Leaderboard(s.ctx, domain.ChallengeDaily, daily.ID)
	s.Require().NoError(err)
	s.True(s.mr.Exists(key))
}
