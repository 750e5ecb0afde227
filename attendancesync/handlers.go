package attendancesync

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/attendance_backend/config"
	"github.com/mmdatafocus/attendance_backend/device"
	"github.com/mmdatafocus/attendance_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	ledgerUsersCacheKey = "attendance:ledger-users"
	ledgerUsersCacheTTL = time.Minute
	defaultListLimit    = 500
	maxListLimit        = 5000
)

// UsersCache is the optional cache in front of the ledger users query.
type UsersCache interface {
	GetObject(ctx context.Context, key string, dest any) (bool, error)
	SetObject(ctx context.Context, key string, obj any, exp time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Handler serves the HTTP surface over the orchestrator and the ledger.
type Handler struct {
	cfg    *config.Config
	orch   *Orchestrator
	db     *gorm.DB
	cache  UsersCache
	logger logrus.FieldLogger
}

func NewHandler(cfg *config.Config, orch *Orchestrator, db *gorm.DB, cache UsersCache, logger logrus.FieldLogger) *Handler {
	return &Handler{cfg: cfg, orch: orch, db: db, cache: cache, logger: logger}
}

func (h *Handler) InfoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := make([]string, 0, len(h.cfg.Terminals))
		for _, t := range h.cfg.Terminals {
			ids = append(ids, t.ID())
		}
		c.JSON(http.StatusOK, gin.H{"terminals": ids})
	}
}

// PollHandler polls every terminal once. Partial failure is a 200: each
// terminal carries its own report or error.
func (h *Handler) PollHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		outcomes := h.orch.PollAll(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"attendance": outcomes})
	}
}

func (h *Handler) DeviceUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := h.orch.FetchUsers(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if users == nil {
			users = []device.UserRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

func (h *Handler) LedgerUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		logger := h.logger.WithField("field", "LedgerUsersHandler")

		var users []models.LedgerUser
		if h.cache != nil {
			hit, err := h.cache.GetObject(ctx, ledgerUsersCacheKey, &users)
			if err != nil {
				logger.Warn("ledger users cache read failed: " + err.Error())
			}
			if hit {
				c.JSON(http.StatusOK, users)
				return
			}
		}

		users, err := models.ListLedgerUsers(ctx, h.db)
		if err != nil {
			config.LogError(h.logger, "attendancesync", "LedgerUsersHandler", "ListLedgerUsers", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
			return
		}
		if users == nil {
			users = []models.LedgerUser{}
		}
		if h.cache != nil {
			if err := h.cache.SetObject(ctx, ledgerUsersCacheKey, users, ledgerUsersCacheTTL); err != nil {
				logger.Warn("ledger users cache write failed: " + err.Error())
			}
		}
		c.JSON(http.StatusOK, users)
	}
}

// SyncUsersHandler copies the first terminal's enrolled users into the users table.
func (h *Handler) SyncUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		records, err := h.orch.FetchUsers(ctx)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		users := toLedgerUsers(records)
		if err := models.UpsertUsers(ctx, h.db, users); err != nil {
			config.LogError(h.logger, "attendancesync", "SyncUsersHandler", "UpsertUsers", len(users), err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
			return
		}
		if h.cache != nil {
			if err := h.cache.Delete(ctx, ledgerUsersCacheKey); err != nil {
				h.logger.WithField("field", "SyncUsersHandler").Warn("ledger users cache invalidation failed: " + err.Error())
			}
		}
		c.JSON(http.StatusOK, gin.H{"fetched": len(records), "synced": len(users)})
	}
}

func toLedgerUsers(records []device.UserRecord) []models.User {
	users := make([]models.User, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		userId := strings.TrimSpace(r.UserID.String())
		if userId == "" || seen[userId] {
			continue
		}
		seen[userId] = true
		card := strings.TrimSpace(r.Card.String())
		if card == "0" {
			card = ""
		}
		users = append(users, models.User{
			UserID:    userId,
			Name:      strings.TrimSpace(r.Name),
			UID:       r.UID,
			Privilege: r.Privilege,
			CardNo:    card,
		})
	}
	return users
}

type attendanceRow struct {
	ID           uint   `json:"id"`
	UID          int    `json:"uid"`
	UserID       string `json:"user_id"`
	Timestamp    string `json:"timestamp"`
	Status       string `json:"status"`
	Punch        int    `json:"punch"`
	DeviceStatus *int   `json:"device_status,omitempty"`
	Terminal     string `json:"terminal,omitempty"`
}

func (h *Handler) ListAttendanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseAttendanceFilter(c, h.cfg.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rows, err := models.ListAttendance(c.Request.Context(), h.db, filter)
		if err != nil {
			config.LogError(h.logger, "attendancesync", "ListAttendanceHandler", "ListAttendance", filter, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
			return
		}

		out := make([]attendanceRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, attendanceRow{
				ID:           r.ID,
				UID:          r.UID,
				UserID:       r.UserID,
				Timestamp:    r.Timestamp.In(h.cfg.Location).Format(models.TimestampLayout),
				Status:       r.Status,
				Punch:        r.Punch,
				DeviceStatus: r.DeviceStatus,
				Terminal:     r.Terminal,
			})
		}
		c.JSON(http.StatusOK, gin.H{"attendance": out})
	}
}

func (h *Handler) ExportAttendanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseAttendanceFilter(c, h.cfg.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rows, err := models.ListAttendance(c.Request.Context(), h.db, filter)
		if err != nil {
			config.LogError(h.logger, "attendancesync", "ExportAttendanceHandler", "ListAttendance", filter, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
			return
		}

		f, err := attendanceWorkbook(rows, h.cfg.Location)
		if err != nil {
			config.LogError(h.logger, "attendancesync", "ExportAttendanceHandler", "attendanceWorkbook", len(rows), err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
			return
		}
		defer f.Close()

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=attendance.xlsx")
		c.Status(http.StatusOK)
		if err := f.Write(c.Writer); err != nil {
			config.LogError(h.logger, "attendancesync", "ExportAttendanceHandler", "Write", nil, err)
		}
	}
}

// parseAttendanceFilter reads user_id, from, to (inclusive dates, YYYY-MM-DD) and limit.
func parseAttendanceFilter(c *gin.Context, loc *time.Location) (models.AttendanceFilter, error) {
	filter := models.AttendanceFilter{
		UserID: strings.TrimSpace(c.Query("user_id")),
		Limit:  defaultListLimit,
	}
	if v := strings.TrimSpace(c.Query("from")); v != "" {
		from, err := time.ParseInLocation("2006-01-02", v, loc)
		if err != nil {
			return filter, fmt.Errorf("from must be YYYY-MM-DD")
		}
		filter.From = &from
	}
	if v := strings.TrimSpace(c.Query("to")); v != "" {
		to, err := time.ParseInLocation("2006-01-02", v, loc)
		if err != nil {
			return filter, fmt.Errorf("to must be YYYY-MM-DD")
		}
		end := to.AddDate(0, 0, 1)
		filter.To = &end
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return filter, fmt.Errorf("from must not be after to")
	}
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = min(n, maxListLimit)
	}
	return filter, nil
}
