package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/repositories"
)

// fixedClock lets tests pin and advance time exactly.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(t time.Time) *fixedClock {
	return &fixedClock{now: t}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockRepository is an in-memory Repository. It hands out copies the way a
// database round trip would, and enforces the versioned-update contract.
type mockRepository struct {
	mu sync.Mutex

	attempts    map[string]models.TestAttempt
	answers     map[string]map[string]models.AnswerRecord // attemptID -> questionID
	assignments map[string]models.Assignment
	tests       map[string]models.Test
	users       map[string]models.User

	attemptRepo    *mockAttemptRepo
	answerRepo     *mockAnswerRepo
	assignmentRepo *mockAssignmentRepo
	testRepo       *mockTestRepo
	userRepo       *mockUserRepo
}

func newMockRepository() *mockRepository {
	r := &mockRepository{
		attempts:    make(map[string]models.TestAttempt),
		answers:     make(map[string]map[string]models.AnswerRecord),
		assignments: make(map[string]models.Assignment),
		tests:       make(map[string]models.Test),
		users:       make(map[string]models.User),
	}
	r.attemptRepo = &mockAttemptRepo{r}
	r.answerRepo = &mockAnswerRepo{r}
	r.assignmentRepo = &mockAssignmentRepo{r}
	r.testRepo = &mockTestRepo{r}
	r.userRepo = &mockUserRepo{r}
	return r
}

func (r *mockRepository) Attempt() repositories.AttemptRepository       { return r.attemptRepo }
func (r *mockRepository) Answer() repositories.AnswerRepository         { return r.answerRepo }
func (r *mockRepository) Assignment() repositories.AssignmentRepository { return r.assignmentRepo }
func (r *mockRepository) Test() repositories.TestRepository             { return r.testRepo }
func (r *mockRepository) User() repositories.UserRepository             { return r.userRepo }

func (r *mockRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(r)
}

func (r *mockRepository) Ping(ctx context.Context) error { return nil }
func (r *mockRepository) Close() error                   { return nil }

// Seed helpers used by tests.

func (r *mockRepository) addTest(test models.Test) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tests[test.ID] = test
}

func (r *mockRepository) addAssignment(assignment models.Assignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[assignment.ID] = assignment
}

func (r *mockRepository) addUser(user models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

func (r *mockRepository) storedAttempt(id string) (models.TestAttempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	return a, ok
}

// ===== ATTEMPT REPO =====

type mockAttemptRepo struct{ r *mockRepository }

func (m *mockAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	attempt.CreatedAt = time.Now()
	attempt.UpdatedAt = attempt.CreatedAt
	m.r.attempts[attempt.ID] = *attempt
	return nil
}

func (m *mockAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.TestAttempt, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	attempt, ok := m.r.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := attempt
	return &out, nil
}

func (m *mockAttemptRepo) GetByIDWithAnswers(ctx context.Context, tx *gorm.DB, id string) (*models.TestAttempt, error) {
	attempt, err := m.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	for _, record := range m.r.answers[id] {
		attempt.Answers = append(attempt.Answers, record)
	}
	sort.SliceStable(attempt.Answers, func(i, j int) bool {
		return attempt.Answers[i].Position < attempt.Answers[j].Position
	})
	return attempt, nil
}

func (m *mockAttemptRepo) UpdateVersioned(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt, expectedVersion int) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	stored, ok := m.r.attempts[attempt.ID]
	if !ok || stored.Version != expectedVersion {
		return repositories.ErrStaleVersion
	}
	attempt.UpdatedAt = time.Now()
	m.r.attempts[attempt.ID] = *attempt
	return nil
}

func (m *mockAttemptRepo) UpdateScore(ctx context.Context, tx *gorm.DB, attempt *models.TestAttempt) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	stored, ok := m.r.attempts[attempt.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	stored.Score = attempt.Score
	stored.PendingCount = attempt.PendingCount
	m.r.attempts[attempt.ID] = stored
	return nil
}

func (m *mockAttemptRepo) GetActiveByUser(ctx context.Context, tx *gorm.DB, assignmentID, userID string) (*models.TestAttempt, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	for _, attempt := range m.r.attempts {
		if attempt.AssignmentID == assignmentID &&
			attempt.UserID != nil && *attempt.UserID == userID &&
			attempt.Status == models.AttemptActive {
			out := attempt
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *mockAttemptRepo) CountByIdentity(ctx context.Context, tx *gorm.DB, filter repositories.AttemptCountFilter) (repositories.AttemptCounts, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	var counts repositories.AttemptCounts
	for _, attempt := range m.r.attempts {
		if attempt.AssignmentID != filter.AssignmentID {
			continue
		}
		if filter.UserID != nil && attempt.UserID != nil && *attempt.UserID == *filter.UserID {
			counts.ByUser++
		}
		if filter.GuestName != nil && attempt.GuestName != nil && *attempt.GuestName == *filter.GuestName {
			counts.ByGuestName++
		}
		if filter.ClientIP != "" && attempt.ClientIP == filter.ClientIP {
			counts.ByClientIP++
		}
		if filter.Fingerprint != "" && attempt.Fingerprint == filter.Fingerprint {
			counts.ByFingerprint++
		}
	}
	return counts, nil
}

func (m *mockAttemptRepo) ListByAssignment(ctx context.Context, tx *gorm.DB, assignmentID string, filters repositories.AttemptFilters) ([]*models.TestAttempt, int64, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	var out []*models.TestAttempt
	for _, attempt := range m.r.attempts {
		if attempt.AssignmentID != assignmentID {
			continue
		}
		if filters.Status != nil && attempt.Status != *filters.Status {
			continue
		}
		copied := attempt
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, int64(len(out)), nil
}

// ===== ANSWER REPO =====

type mockAnswerRepo struct{ r *mockRepository }

func (m *mockAnswerRepo) Upsert(ctx context.Context, tx *gorm.DB, record *models.AnswerRecord) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	byQuestion, ok := m.r.answers[record.AttemptID]
	if !ok {
		byQuestion = make(map[string]models.AnswerRecord)
		m.r.answers[record.AttemptID] = byQuestion
	}
	if existing, ok := byQuestion[record.QuestionID]; ok {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	} else {
		record.ID = uint(len(byQuestion) + 1)
		record.CreatedAt = time.Now()
	}
	record.UpdatedAt = time.Now()
	byQuestion[record.QuestionID] = *record
	return nil
}

func (m *mockAnswerRepo) Update(ctx context.Context, tx *gorm.DB, record *models.AnswerRecord) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	byQuestion, ok := m.r.answers[record.AttemptID]
	if !ok {
		return repositories.ErrNotFound
	}
	if _, ok := byQuestion[record.QuestionID]; !ok {
		return repositories.ErrNotFound
	}
	record.UpdatedAt = time.Now()
	byQuestion[record.QuestionID] = *record
	return nil
}

func (m *mockAnswerRepo) GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID string) (*models.AnswerRecord, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	record, ok := m.r.answers[attemptID][questionID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := record
	return &out, nil
}

func (m *mockAnswerRepo) ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID string) ([]*models.AnswerRecord, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	var out []*models.AnswerRecord
	for _, record := range m.r.answers[attemptID] {
		copied := record
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out, nil
}

// ===== ASSIGNMENT REPO =====

type mockAssignmentRepo struct{ r *mockRepository }

func (m *mockAssignmentRepo) Create(ctx context.Context, tx *gorm.DB, assignment *models.Assignment) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	m.r.assignments[assignment.ID] = *assignment
	return nil
}

func (m *mockAssignmentRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Assignment, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	assignment, ok := m.r.assignments[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := assignment
	return &out, nil
}

func (m *mockAssignmentRepo) GetByIDWithTest(ctx context.Context, tx *gorm.DB, id string) (*models.Assignment, error) {
	assignment, err := m.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	if test, ok := m.r.tests[assignment.TestID]; ok {
		assignment.Test = test
	}
	return assignment, nil
}

func (m *mockAssignmentRepo) GetByShareToken(ctx context.Context, tx *gorm.DB, token string) (*models.Assignment, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	for _, assignment := range m.r.assignments {
		if assignment.ShareToken == token {
			out := assignment
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}

// ===== TEST REPO =====

type mockTestRepo struct{ r *mockRepository }

func (m *mockTestRepo) Create(ctx context.Context, tx *gorm.DB, test *models.Test) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	m.r.tests[test.ID] = *test
	return nil
}

func (m *mockTestRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Test, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	test, ok := m.r.tests[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := test
	out.Questions = nil
	return &out, nil
}

func (m *mockTestRepo) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id string) (*models.Test, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	test, ok := m.r.tests[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := test
	return &out, nil
}

// ===== USER REPO =====

type mockUserRepo struct{ r *mockRepository }

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	user, ok := m.r.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := user
	return &out, nil
}

func (m *mockUserRepo) GetByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	out := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		if user, ok := m.r.users[id]; ok {
			copied := user
			out[id] = &copied
		}
	}
	return out, nil
}
