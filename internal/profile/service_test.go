package profile

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/babyprofile/internal/confirm"
	"github.com/hitoshi/babyprofile/internal/identity"
	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/security"
	"github.com/hitoshi/babyprofile/internal/store"
)

// --- モック ---

// memProfileRepo はIDの一意制約を持つメモリ上のプロフィールリポジトリ。
type memProfileRepo struct {
	mu       sync.Mutex
	rows     map[string]*model.Profile
	order    []string
	createFn func(ctx context.Context, p *model.Profile) error
	countErr error
}

func newMemProfileRepo() *memProfileRepo {
	return &memProfileRepo{rows: make(map[string]*model.Profile)}
}

func (m *memProfileRepo) CountByBaby(ctx context.Context, babyID string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.rows {
		if p.BabyID == babyID {
			n++
		}
	}
	return n, nil
}

func (m *memProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	if m.createFn != nil {
		return m.createFn(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.ID]; ok {
		return &store.Error{Status: http.StatusConflict, Code: store.CodeUniqueViolation}
	}
	m.rows[p.ID] = p
	m.order = append(m.order, p.ID)
	return nil
}

func (m *memProfileRepo) ListByBabyAndOwner(ctx context.Context, babyID, userID string) ([]*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Profile
	for i := len(m.order) - 1; i >= 0; i-- {
		p, ok := m.rows[m.order[i]]
		if ok && p.BabyID == babyID && p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memProfileRepo) FindByID(ctx context.Context, id, userID string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.UserID != userID {
		return nil, nil
	}
	return p, nil
}

func (m *memProfileRepo) Update(ctx context.Context, id, userID string, patch model.ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.UserID != userID {
		return store.ErrNoRows
	}
	p.Answers = patch.Answers
	p.UpdatedAt = patch.UpdatedAt
	p.UpdatedBy = patch.UpdatedBy
	return nil
}

func (m *memProfileRepo) Delete(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.UserID != userID {
		return store.ErrNoRows
	}
	delete(m.rows, id)
	return nil
}

type babyFinderFunc func(ctx context.Context, id, userID string) (*model.Baby, error)

func (f babyFinderFunc) FindByID(ctx context.Context, id, userID string) (*model.Baby, error) {
	return f(ctx, id, userID)
}

func ownedBaby(ctx context.Context, id, userID string) (*model.Baby, error) {
	if id != "Aria_20230501" || userID != "user-1" {
		return nil, nil
	}
	return &model.Baby{ID: id, UserID: userID}, nil
}

type staticSession struct {
	sess *model.Session
}

func (s staticSession) Current() *model.Session { return s.sess }

type countingRecorder struct {
	mu        sync.Mutex
	conflicts int
}

func (r *countingRecorder) RecordAllocationConflict() {
	r.mu.Lock()
	r.conflicts++
	r.mu.Unlock()
}

var fixedNow = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func owner() *model.Session {
	return &model.Session{UserID: "user-1", Email: "parent@example.com", Role: model.RoleUser}
}

func newTestService(repo *memProfileRepo, sess *model.Session, recorder identity.ConflictRecorder) *Service {
	return NewService(
		repo,
		babyFinderFunc(ownedBaby),
		staticSession{sess: sess},
		identity.NewAllocator(3, recorder, nil),
		security.NewTextSanitizer(),
		confirm.NewIssuer(time.Minute),
		func() time.Time { return fixedNow },
	)
}

func assertCode(t *testing.T, err error, want string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != want {
		t.Errorf("Code = %q, want %q", apiErr.Code, want)
	}
}

// --- テスト ---

func TestCreate_SequentialIDs(t *testing.T) {
	repo := newMemProfileRepo()
	svc := newTestService(repo, owner(), nil)
	ctx := context.Background()

	for i, want := range []string{"Aria_20230501_1", "Aria_20230501_2", "Aria_20230501_3"} {
		p, err := svc.Create(ctx, CreateInput{BabyID: "Aria_20230501", Answers: model.Answers{"q1": float64(i)}})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if p.ID != want {
			t.Errorf("create %d: ID = %q, want %q", i, p.ID, want)
		}
		if p.CreatedBy != "parent@example.com" {
			t.Errorf("CreatedBy = %q", p.CreatedBy)
		}
	}
}

func TestCreate_ConcurrentCreatesNeverCollide(t *testing.T) {
	repo := newMemProfileRepo()
	recorder := &countingRecorder{}
	svc := newTestService(repo, owner(), recorder)

	const n = 3
	var wg sync.WaitGroup
	ids := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := svc.Create(context.Background(), CreateInput{BabyID: "Aria_20230501", Answers: model.Answers{}})
			if err != nil {
				errs <- err
				return
			}
			ids <- p.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %q", id)
		}
		seen[id] = true
	}
	for err := range errs {
		assertCode(t, err, model.ErrCodeTransientAllocationConflict)
	}
	if len(repo.rows) != len(seen) {
		t.Errorf("stored %d rows, returned %d ids", len(repo.rows), len(seen))
	}
}

func TestCreate_PersistentConflictIsTransientAllocationConflict(t *testing.T) {
	repo := newMemProfileRepo()
	repo.createFn = func(ctx context.Context, p *model.Profile) error {
		return &store.Error{Status: http.StatusConflict, Code: store.CodeUniqueViolation}
	}
	recorder := &countingRecorder{}
	svc := newTestService(repo, owner(), recorder)

	_, err := svc.Create(context.Background(), CreateInput{BabyID: "Aria_20230501", Answers: model.Answers{}})
	assertCode(t, err, model.ErrCodeTransientAllocationConflict)
	if recorder.conflicts != 3 {
		t.Errorf("conflicts = %d, want 3", recorder.conflicts)
	}
}

func TestCreate_BabyMustBelongToCaller(t *testing.T) {
	repo := newMemProfileRepo()
	repo.createFn = func(ctx context.Context, p *model.Profile) error {
		t.Fatal("insert must not happen for a foreign baby")
		return nil
	}
	svc := newTestService(repo, &model.Session{UserID: "user-2", Email: "other@example.com"}, nil)

	_, err := svc.Create(context.Background(), CreateInput{BabyID: "Aria_20230501", Answers: model.Answers{}})
	assertCode(t, err, model.ErrCodeNotFound)
}

func TestCreate_CountFailureIsRemoteFailure(t *testing.T) {
	repo := newMemProfileRepo()
	repo.countErr = &store.Error{Status: http.StatusBadGateway, Message: "upstream"}
	svc := newTestService(repo, owner(), nil)

	_, err := svc.Create(context.Background(), CreateInput{BabyID: "Aria_20230501", Answers: model.Answers{}})
	assertCode(t, err, model.ErrCodeRemoteFailure)
}

func TestCreate_AnswerValidation(t *testing.T) {
	tests := []struct {
		name    string
		answers model.Answers
	}{
		{"nil answers", nil},
		{"bool answer", model.Answers{"q1": true}},
		{"nested answer", model.Answers{"q1": map[string]any{"a": 1}}},
		{"empty key", model.Answers{"": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(newMemProfileRepo(), owner(), nil)
			_, err := svc.Create(context.Background(), CreateInput{BabyID: "Aria_20230501", Answers: tt.answers})
			assertCode(t, err, model.ErrCodeValidation)
		})
	}
}

func TestCreate_SanitizesTextAnswers(t *testing.T) {
	repo := newMemProfileRepo()
	svc := newTestService(repo, owner(), nil)

	p, err := svc.Create(context.Background(), CreateInput{
		BabyID:  "Aria_20230501",
		Answers: model.Answers{"memo": "<script>alert(1)</script>よく眠る", "weight": 3.2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Answers["memo"] != "よく眠る" {
		t.Errorf("memo = %q", p.Answers["memo"])
	}
	if p.Answers["weight"] != 3.2 {
		t.Errorf("weight = %v", p.Answers["weight"])
	}
}

func TestRequireSession(t *testing.T) {
	svc := newTestService(newMemProfileRepo(), nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{BabyID: "Aria_20230501", Answers: model.Answers{}})
	assertCode(t, err, model.ErrCodeUnauthenticated)
	_, err = svc.ListByBaby(ctx, "Aria_20230501")
	assertCode(t, err, model.ErrCodeUnauthenticated)
	_, err = svc.Get(ctx, "Aria_20230501_1")
	assertCode(t, err, model.ErrCodeUnauthenticated)
}

func TestUpdate_ReplacesAnswers(t *testing.T) {
	repo := newMemProfileRepo()
	svc := newTestService(repo, owner(), nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{BabyID: "Aria_20230501", Answers: model.Answers{"q1": "a"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.Update(ctx, p.ID, UpdateInput{Answers: model.Answers{"q1": "b"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Answers["q1"] != "b" {
		t.Errorf("q1 = %v, want b", updated.Answers["q1"])
	}
	if updated.UpdatedBy != "parent@example.com" {
		t.Errorf("UpdatedBy = %q", updated.UpdatedBy)
	}
}

func TestUpdate_ForeignProfileIsNotFound(t *testing.T) {
	repo := newMemProfileRepo()
	repo.rows["Aria_20230501_1"] = &model.Profile{ID: "Aria_20230501_1", BabyID: "Aria_20230501", UserID: "user-9"}
	svc := newTestService(repo, owner(), nil)

	_, err := svc.Update(context.Background(), "Aria_20230501_1", UpdateInput{Answers: model.Answers{}})
	assertCode(t, err, model.ErrCodeNotFound)
}

func TestListByBaby_NewestFirst(t *testing.T) {
	repo := newMemProfileRepo()
	svc := newTestService(repo, owner(), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Create(ctx, CreateInput{BabyID: "Aria_20230501", Answers: model.Answers{}}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := svc.ListByBaby(ctx, "Aria_20230501")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "Aria_20230501_2" {
		t.Errorf("unexpected order: %+v", list)
	}
}

func TestDelete_ConfirmationFlow(t *testing.T) {
	repo := newMemProfileRepo()
	svc := newTestService(repo, owner(), nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{BabyID: "Aria_20230501", Answers: model.Answers{}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = svc.Delete(ctx, p.ID, "not-a-token")
	assertCode(t, err, model.ErrCodeConfirmationRequired)
	if _, ok := repo.rows[p.ID]; !ok {
		t.Fatal("profile deleted without confirmation")
	}

	token, err := svc.RequestDelete(ctx, p.ID)
	if err != nil {
		t.Fatalf("RequestDelete: %v", err)
	}
	if err := svc.Delete(ctx, p.ID, token); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := repo.rows[p.ID]; ok {
		t.Error("profile still present after confirmed delete")
	}
}
