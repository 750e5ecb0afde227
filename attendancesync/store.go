package attendancesync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/attendance_backend/models"
	"gorm.io/gorm"
)

// LedgerStore runs one reconciliation batch inside a transaction. Returning
// an error from fn rolls back every write made through the LedgerTx.
type LedgerStore interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx reads observe writes made earlier through the same LedgerTx.
type LedgerTx interface {
	// FindExact returns the row with this exact (user_id, timestamp), or nil.
	FindExact(ctx context.Context, userId string, ts time.Time) (*models.Attendance, error)
	// CountOnDay counts the user's rows with dayStart <= timestamp < dayEnd.
	CountOnDay(ctx context.Context, userId string, dayStart, dayEnd time.Time) (int64, error)
	// Insert writes rec. A uniqueness violation returns an error wrapping
	// ErrDuplicate and leaves the transaction usable.
	Insert(ctx context.Context, rec *models.Attendance) error
}

// GormLedger is the LedgerStore backed by the attendance table.
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (l *GormLedger) InTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(gormLedgerTx{tx: tx})
	})
}

type gormLedgerTx struct {
	tx *gorm.DB
}

func (t gormLedgerTx) FindExact(ctx context.Context, userId string, ts time.Time) (*models.Attendance, error) {
	return models.FindAttendance(ctx, t.tx, userId, ts)
}

func (t gormLedgerTx) CountOnDay(ctx context.Context, userId string, dayStart, dayEnd time.Time) (int64, error) {
	return models.CountAttendanceBetween(ctx, t.tx, userId, dayStart, dayEnd)
}

// Insert runs inside a savepoint so a failed row does not poison the batch.
func (t gormLedgerTx) Insert(ctx context.Context, rec *models.Attendance) error {
	err := t.tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		return models.CreateAttendance(ctx, sp, rec)
	})
	if err == nil {
		return nil
	}
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Dialectors without an error translator.
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}
