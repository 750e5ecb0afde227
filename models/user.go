package models

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// User is an employee as enrolled on a terminal.
type User struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:64" json:"user_id"`
	Name      string    `gorm:"size:100;not null;default:''" json:"name"`
	UID       int       `gorm:"column:uid" json:"uid"`
	Privilege int       `json:"privilege"`
	CardNo    string    `gorm:"size:32" json:"card_no"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// LedgerUser is a distinct user_id seen in the attendance ledger.
type LedgerUser struct {
	UserID string  `json:"user_id"`
	Name   *string `json:"name"`
}

func ListLedgerUsers(ctx context.Context, db *gorm.DB) ([]LedgerUser, error) {
	sql := `
SELECT
    a.user_id,
    MAX(u.name) AS name
FROM
    attendance AS a
    LEFT JOIN users AS u ON u.user_id = a.user_id
GROUP BY
    a.user_id
ORDER BY
    a.user_id`

	var users []LedgerUser
	if err := db.WithContext(ctx).Raw(sql).Scan(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// UpsertUsers inserts users or refreshes name/uid/privilege/card of existing ones.
func UpsertUsers(ctx context.Context, db *gorm.DB, users []User) error {
	if len(users) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "uid", "privilege", "card_no", "updated_at"}),
		}).
		Create(&users).Error
}
