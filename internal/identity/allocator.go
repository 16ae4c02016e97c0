package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/babyprofile/internal/store"
)

// DefaultMaxAttempts は採番の既定の試行回数。
const DefaultMaxAttempts = 3

// CountFunc は赤ちゃんに紐づく既存プロフィール数を返す。
type CountFunc func(ctx context.Context, babyID string) (int, error)

// InsertFunc は指定IDでプロフィールを挿入する。
// 既存IDと衝突した場合は一意制約違反を返し、上書きしてはならない。
type InsertFunc func(ctx context.Context, id string) error

// ConflictRecorder は採番競合を記録する。
type ConflictRecorder interface {
	RecordAllocationConflict()
}

// Allocator はプロフィールIDを件数ベースで採番する。
// 件数の取得と挿入の間は分離されないため、一意制約違反を検出したら件数を取り直して再試行する。
type Allocator struct {
	maxAttempts int
	recorder    ConflictRecorder
	logger      *slog.Logger
	isConflict  func(error) bool
}

// NewAllocator はAllocatorを生成する。maxAttemptsが1未満の場合は既定値を使う。
func NewAllocator(maxAttempts int, recorder ConflictRecorder, logger *slog.Logger) *Allocator {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		maxAttempts: maxAttempts,
		recorder:    recorder,
		logger:      logger,
		isConflict:  store.IsUniqueViolation,
	}
}

// AllocateProfile は次のプロフィールIDを採番して挿入し、確定したIDを返す。
// 番号は件数+1。再試行では件数を取り直し、前回衝突した番号以下には戻らない。
// 上限まで衝突した場合は*ConflictErrorを返す。
func (a *Allocator) AllocateProfile(ctx context.Context, babyID string, count CountFunc, insert InsertFunc) (string, error) {
	lastTried := 0

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		existing, err := count(ctx, babyID)
		if err != nil {
			return "", fmt.Errorf("failed to count profiles: %w", err)
		}

		next := existing + 1
		if next <= lastTried {
			next = lastTried + 1
		}
		id := ProfileID(babyID, next)

		err = insert(ctx, id)
		if err == nil {
			return id, nil
		}
		if !a.isConflict(err) {
			return "", fmt.Errorf("failed to insert profile: %w", err)
		}

		lastTried = next
		if a.recorder != nil {
			a.recorder.RecordAllocationConflict()
		}
		a.logger.Warn("profile id conflict, retrying",
			slog.String("baby_id", babyID),
			slog.String("profile_id", id),
			slog.Int("attempt", attempt),
		)
	}

	return "", &ConflictError{BabyID: babyID, Attempts: a.maxAttempts}
}
