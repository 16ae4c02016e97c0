package baby

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hitoshi/babyprofile/internal/confirm"
	"github.com/hitoshi/babyprofile/internal/model"
	"github.com/hitoshi/babyprofile/internal/security"
	"github.com/hitoshi/babyprofile/internal/store"
)

// --- モック ---

type mockBabyRepo struct {
	listByOwnerFn      func(ctx context.Context, userID string) ([]*model.Baby, error)
	listNamesByOwnerFn func(ctx context.Context, userID string) ([]model.BabyName, error)
	findByIDFn         func(ctx context.Context, id, userID string) (*model.Baby, error)
	createFn           func(ctx context.Context, baby *model.Baby) error
	updateFn           func(ctx context.Context, id, userID string, patch model.BabyPatch) error
	deleteFn           func(ctx context.Context, id, userID string) error
}

func (m *mockBabyRepo) ListByOwner(ctx context.Context, userID string) ([]*model.Baby, error) {
	return m.listByOwnerFn(ctx, userID)
}
func (m *mockBabyRepo) ListNamesByOwner(ctx context.Context, userID string) ([]model.BabyName, error) {
	return m.listNamesByOwnerFn(ctx, userID)
}
func (m *mockBabyRepo) FindByID(ctx context.Context, id, userID string) (*model.Baby, error) {
	return m.findByIDFn(ctx, id, userID)
}
func (m *mockBabyRepo) Create(ctx context.Context, baby *model.Baby) error {
	return m.createFn(ctx, baby)
}
func (m *mockBabyRepo) Update(ctx context.Context, id, userID string, patch model.BabyPatch) error {
	return m.updateFn(ctx, id, userID, patch)
}
func (m *mockBabyRepo) Delete(ctx context.Context, id, userID string) error {
	return m.deleteFn(ctx, id, userID)
}

type staticSession struct {
	sess *model.Session
}

func (s staticSession) Current() *model.Session { return s.sess }

var fixedNow = time.Date(2024, 3, 10, 9, 30, 15, 250_000_000, time.FixedZone("JST", 9*60*60))

func newTestService(repo *mockBabyRepo, sess *model.Session) *Service {
	return NewService(repo, staticSession{sess: sess}, security.NewTextSanitizer(), confirm.NewIssuer(time.Minute), func() time.Time { return fixedNow })
}

func owner() *model.Session {
	return &model.Session{UserID: "user-1", Email: "parent@example.com", Role: model.RoleUser}
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

func TestCreate_DerivesIDAndRecordsActor(t *testing.T) {
	var created *model.Baby
	repo := &mockBabyRepo{
		createFn: func(ctx context.Context, baby *model.Baby) error {
			created = baby
			return nil
		},
	}
	svc := newTestService(repo, owner())

	baby, err := svc.Create(context.Background(), Input{Name: " Aria ", DOB: "2023-05-01", Note: "<b>元気</b>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if baby.ID != "Aria_20230501" {
		t.Errorf("ID = %q, want %q", baby.ID, "Aria_20230501")
	}
	if created.Name != "Aria" {
		t.Errorf("Name = %q, want trimmed name", created.Name)
	}
	if created.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", created.UserID)
	}
	if created.CreatedBy != "parent@example.com" || created.UpdatedBy != "parent@example.com" {
		t.Errorf("actor = %q/%q, want caller email", created.CreatedBy, created.UpdatedBy)
	}
	if !created.CreatedAt.Equal(fixedNow) {
		t.Errorf("CreatedAt = %v, want %v", created.CreatedAt, fixedNow)
	}
	if created.Note != "元気" {
		t.Errorf("Note = %q, want sanitized text", created.Note)
	}
}

func TestCreate_DuplicateIdentity(t *testing.T) {
	repo := &mockBabyRepo{
		createFn: func(ctx context.Context, baby *model.Baby) error {
			return &store.Error{Status: http.StatusConflict, Code: store.CodeUniqueViolation}
		},
	}
	svc := newTestService(repo, owner())

	_, err := svc.Create(context.Background(), Input{Name: "Aria", DOB: "2023-05-01"})
	assertCode(t, err, model.ErrCodeDuplicateIdentity)
}

func TestCreate_OtherStoreErrorIsRemoteFailure(t *testing.T) {
	repo := &mockBabyRepo{
		createFn: func(ctx context.Context, baby *model.Baby) error {
			return &store.Error{Status: http.StatusInternalServerError, Message: "boom"}
		},
	}
	svc := newTestService(repo, owner())

	_, err := svc.Create(context.Background(), Input{Name: "Aria", DOB: "2023-05-01"})
	assertCode(t, err, model.ErrCodeRemoteFailure)
}

func TestCreate_UnknownActorWithoutEmail(t *testing.T) {
	var created *model.Baby
	repo := &mockBabyRepo{
		createFn: func(ctx context.Context, baby *model.Baby) error {
			created = baby
			return nil
		},
	}
	svc := newTestService(repo, &model.Session{UserID: "user-1"})

	if _, err := svc.Create(context.Background(), Input{Name: "Aria", DOB: "2023-05-01"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.CreatedBy != "Unknown User" {
		t.Errorf("CreatedBy = %q, want Unknown User", created.CreatedBy)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"empty name", Input{Name: "", DOB: "2023-05-01"}},
		{"blank name", Input{Name: "   ", DOB: "2023-05-01"}},
		{"slash date", Input{Name: "Aria", DOB: "2023/05/01"}},
		{"impossible date", Input{Name: "Aria", DOB: "2023-02-30"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockBabyRepo{
				createFn: func(ctx context.Context, baby *model.Baby) error {
					t.Fatal("store must not be called for invalid input")
					return nil
				},
			}
			svc := newTestService(repo, owner())

			_, err := svc.Create(context.Background(), tt.in)
			assertCode(t, err, model.ErrCodeValidation)
		})
	}
}

func TestOperations_RequireSession(t *testing.T) {
	svc := newTestService(&mockBabyRepo{}, nil)
	ctx := context.Background()

	_, err := svc.List(ctx)
	assertCode(t, err, model.ErrCodeUnauthenticated)
	_, err = svc.ListNames(ctx)
	assertCode(t, err, model.ErrCodeUnauthenticated)
	_, err = svc.Create(ctx, Input{Name: "Aria", DOB: "2023-05-01"})
	assertCode(t, err, model.ErrCodeUnauthenticated)
	_, err = svc.Update(ctx, "Aria_20230501", Input{Name: "Aria", DOB: "2023-05-01"})
	assertCode(t, err, model.ErrCodeUnauthenticated)
	err = svc.Delete(ctx, "Aria_20230501", "token")
	assertCode(t, err, model.ErrCodeUnauthenticated)
}

func TestList_ScopedToOwner(t *testing.T) {
	repo := &mockBabyRepo{
		listByOwnerFn: func(ctx context.Context, userID string) ([]*model.Baby, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			return []*model.Baby{{ID: "Aria_20230501"}}, nil
		},
	}
	svc := newTestService(repo, owner())

	babies, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(babies) != 1 {
		t.Errorf("len = %d, want 1", len(babies))
	}
}

func TestList_PermissionDeniedIsForbidden(t *testing.T) {
	repo := &mockBabyRepo{
		listByOwnerFn: func(ctx context.Context, userID string) ([]*model.Baby, error) {
			return nil, &store.Error{Status: http.StatusForbidden, Code: store.CodeInsufficientPrivilege}
		},
	}
	svc := newTestService(repo, owner())

	_, err := svc.List(context.Background())
	assertCode(t, err, model.ErrCodeForbidden)
}

func TestUpdate_KeepsIDAndReturnsFreshRow(t *testing.T) {
	var gotPatch model.BabyPatch
	repo := &mockBabyRepo{
		updateFn: func(ctx context.Context, id, userID string, patch model.BabyPatch) error {
			if id != "Aria_20230501" || userID != "user-1" {
				t.Errorf("update target = %s/%s", id, userID)
			}
			gotPatch = patch
			return nil
		},
		findByIDFn: func(ctx context.Context, id, userID string) (*model.Baby, error) {
			return &model.Baby{ID: id, Name: gotPatch.Name, DOB: gotPatch.DOB}, nil
		},
	}
	svc := newTestService(repo, owner())

	baby, err := svc.Update(context.Background(), "Aria_20230501", Input{Name: "Arianna", DOB: "2023-05-02"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if baby.ID != "Aria_20230501" {
		t.Errorf("ID = %q, id must not be re-derived", baby.ID)
	}
	if gotPatch.UpdatedBy != "parent@example.com" {
		t.Errorf("UpdatedBy = %q", gotPatch.UpdatedBy)
	}
	if !gotPatch.UpdatedAt.Equal(fixedNow) {
		t.Errorf("UpdatedAt = %v, want %v", gotPatch.UpdatedAt, fixedNow)
	}
}

func TestUpdate_NoRowsIsNotFound(t *testing.T) {
	repo := &mockBabyRepo{
		updateFn: func(ctx context.Context, id, userID string, patch model.BabyPatch) error {
			return store.ErrNoRows
		},
	}
	svc := newTestService(repo, owner())

	_, err := svc.Update(context.Background(), "Other_20200101", Input{Name: "Other", DOB: "2020-01-01"})
	assertCode(t, err, model.ErrCodeNotFound)
}

func TestDelete_RequiresConfirmation(t *testing.T) {
	repo := &mockBabyRepo{
		deleteFn: func(ctx context.Context, id, userID string) error {
			t.Fatal("unconfirmed delete must not reach the store")
			return nil
		},
	}
	svc := newTestService(repo, owner())

	err := svc.Delete(context.Background(), "Aria_20230501", "")
	assertCode(t, err, model.ErrCodeConfirmationRequired)
}

func TestDelete_WithConfirmationToken(t *testing.T) {
	deletes := 0
	repo := &mockBabyRepo{
		findByIDFn: func(ctx context.Context, id, userID string) (*model.Baby, error) {
			return &model.Baby{ID: id, UserID: userID}, nil
		},
		deleteFn: func(ctx context.Context, id, userID string) error {
			deletes++
			return nil
		},
	}
	svc := newTestService(repo, owner())
	ctx := context.Background()

	token, err := svc.RequestDelete(ctx, "Aria_20230501")
	if err != nil {
		t.Fatalf("RequestDelete: %v", err)
	}
	if err := svc.Delete(ctx, "Aria_20230501", token); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deletes != 1 {
		t.Errorf("deletes = %d, want 1", deletes)
	}

	// トークンは1回限り
	err = svc.Delete(ctx, "Aria_20230501", token)
	assertCode(t, err, model.ErrCodeConfirmationRequired)
	if deletes != 1 {
		t.Errorf("deletes = %d after reuse, want 1", deletes)
	}
}

func TestDelete_TokenIsBoundToTarget(t *testing.T) {
	repo := &mockBabyRepo{
		findByIDFn: func(ctx context.Context, id, userID string) (*model.Baby, error) {
			return &model.Baby{ID: id}, nil
		},
		deleteFn: func(ctx context.Context, id, userID string) error {
			t.Fatal("delete with another target's token must not reach the store")
			return nil
		},
	}
	svc := newTestService(repo, owner())
	ctx := context.Background()

	token, err := svc.RequestDelete(ctx, "Aria_20230501")
	if err != nil {
		t.Fatalf("RequestDelete: %v", err)
	}
	err = svc.Delete(ctx, "Ben_20220101", token)
	assertCode(t, err, model.ErrCodeConfirmationRequired)
}

func TestRequestDelete_UnknownBaby(t *testing.T) {
	repo := &mockBabyRepo{
		findByIDFn: func(ctx context.Context, id, userID string) (*model.Baby, error) {
			return nil, nil
		},
	}
	svc := newTestService(repo, owner())

	_, err := svc.RequestDelete(context.Background(), "Nobody_20000101")
	assertCode(t, err, model.ErrCodeNotFound)
}
