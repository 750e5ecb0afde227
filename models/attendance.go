package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// TimestampLayout is the naive local layout terminals report punches in.
const TimestampLayout = "2006-01-02 15:04:05"

// Attendance is one accepted punch. Rows are written once and never updated.
type Attendance struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UID          int       `gorm:"column:uid;not null" json:"uid"`
	UserID       string    `gorm:"column:user_id;size:64;not null;uniqueIndex:idx_attendance_user_timestamp,priority:1" json:"user_id"`
	Timestamp    time.Time `gorm:"column:timestamp;not null;uniqueIndex:idx_attendance_user_timestamp,priority:2" json:"timestamp"`
	Status       string    `gorm:"size:32;not null" json:"status"`
	Punch        int       `gorm:"not null" json:"punch"`
	DeviceStatus *int      `json:"device_status,omitempty"`
	Terminal     string    `gorm:"size:128;index" json:"terminal"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Attendance) TableName() string {
	return "attendance"
}

// FindAttendance returns the row for the exact (user_id, timestamp) pair, or nil.
func FindAttendance(ctx context.Context, db *gorm.DB, userId string, ts time.Time) (*Attendance, error) {
	var rec Attendance
	err := db.WithContext(ctx).
		Where("user_id = ? AND `timestamp` = ?", userId, ts).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// CountAttendanceBetween counts a user's rows with from <= timestamp < to.
func CountAttendanceBetween(ctx context.Context, db *gorm.DB, userId string, from, to time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&Attendance{}).
		Where("user_id = ? AND `timestamp` >= ? AND `timestamp` < ?", userId, from, to).
		Count(&count).Error
	return count, err
}

func CreateAttendance(ctx context.Context, db *gorm.DB, rec *Attendance) error {
	return db.WithContext(ctx).Create(rec).Error
}

type AttendanceFilter struct {
	UserID string
	From   *time.Time
	To     *time.Time
	Limit  int
}

// ListAttendance returns ledger rows ordered by timestamp then id.
func ListAttendance(ctx context.Context, db *gorm.DB, filter AttendanceFilter) ([]Attendance, error) {
	q := db.WithContext(ctx).Model(&Attendance{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.From != nil {
		q = q.Where("`timestamp` >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("`timestamp` < ?", *filter.To)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []Attendance
	if err := q.Order("`timestamp` ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
