package attendancesync_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/attendance_backend/attendancesync"
	"github.com/mmdatafocus/attendance_backend/device"
	"github.com/mmdatafocus/attendance_backend/device/devicetest"
	"github.com/mmdatafocus/attendance_backend/models"
	"github.com/mmdatafocus/attendance_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deletes int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}}
}

func (c *memCache) GetObject(ctx context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (c *memCache) SetObject(ctx context.Context, key string, obj any, exp time.Duration) error {
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = b
	return nil
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.deletes++
	return nil
}

type handlerFixture struct {
	router *gin.Engine
	db     *gorm.DB
	client *devicetest.Client
	cache  *memCache
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	client := devicetest.NewClient()
	client.Set("10.0.0.1", devicetest.Terminal{
		Events: dayOfPunches(),
		Users: []device.UserRecord{
			{UID: 1, UserID: "1001", Name: " Aye Aye ", Card: "0"},
			{UID: 2, UserID: "1002", Name: "Ko Ko", Card: "884422"},
			{UID: 3, UserID: "1001", Name: "duplicate enrolment"},
		},
	})
	cfg := testConfig("10.0.0.1", "10.0.0.2")
	db := testutil.OpenLedgerDB(t)
	engine := attendancesync.NewEngine(attendancesync.NewGormLedger(db), cfg.Location, discardLogger())
	orch := attendancesync.NewOrchestrator(cfg, client, engine, discardLogger())
	cache := newMemCache()
	h := attendancesync.NewHandler(cfg, orch, db, cache, discardLogger())

	r := gin.New()
	r.GET("/", h.InfoHandler())
	r.GET("/get_attendance", h.PollHandler())
	r.GET("/get_users", h.DeviceUsersHandler())
	r.GET("/users", h.LedgerUsersHandler())
	r.POST("/sync_users", h.SyncUsersHandler())
	r.GET("/attendance", h.ListAttendanceHandler())
	r.GET("/attendance/export", h.ExportAttendanceHandler())

	return &handlerFixture{router: r, db: db, client: client, cache: cache}
}

func (f *handlerFixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

func TestInfoHandler(t *testing.T) {
	f := newHandlerFixture(t)
	w := f.do(t, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Terminals []string `json:"terminals"`
	}
	decode(t, w, &body)
	assert.Equal(t, []string{"10.0.0.1:4370", "10.0.0.2:4370"}, body.Terminals)
}

func TestPollHandler_PartialFailureIsOK(t *testing.T) {
	f := newHandlerFixture(t)
	w := f.do(t, http.MethodGet, "/get_attendance")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Attendance map[string]attendancesync.PollOutcome `json:"attendance"`
	}
	decode(t, w, &body)
	require.Len(t, body.Attendance, 2)
	assert.Equal(t, 3, body.Attendance["10.0.0.1:4370"].Report.Inserted)
	assert.Equal(t, attendancesync.ErrorKindDeviceUnreachable, body.Attendance["10.0.0.2:4370"].Kind)

	// The same device contents polled again change nothing.
	w = f.do(t, http.MethodGet, "/get_attendance")
	decode(t, w, &body)
	assert.Equal(t, 3, body.Attendance["10.0.0.1:4370"].Report.Skipped)
	assert.EqualValues(t, 3, countRows(t, f.db))
}

func TestDeviceUsersHandler(t *testing.T) {
	f := newHandlerFixture(t)
	w := f.do(t, http.MethodGet, "/get_users")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Users []device.UserRecord `json:"users"`
	}
	decode(t, w, &body)
	assert.Len(t, body.Users, 3)
}

func TestDeviceUsersHandler_UnreachableIs502(t *testing.T) {
	f := newHandlerFixture(t)
	f.client.Set("10.0.0.1", devicetest.Terminal{FetchErr: device.ErrUnreachable})

	w := f.do(t, http.MethodGet, "/get_users")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.NotEmpty(t, body["error"])
}

func TestSyncUsersThenLedgerUsers(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/get_attendance").Code)

	w := f.do(t, http.MethodGet, "/users")
	require.Equal(t, http.StatusOK, w.Code)
	var before []models.LedgerUser
	decode(t, w, &before)
	require.Len(t, before, 2)
	assert.Nil(t, before[0].Name, "no names before the users table is synced")

	w = f.do(t, http.MethodPost, "/sync_users")
	require.Equal(t, http.StatusOK, w.Code)
	var synced map[string]int
	decode(t, w, &synced)
	assert.Equal(t, map[string]int{"fetched": 3, "synced": 2}, synced)
	assert.Equal(t, 1, f.cache.deletes)

	w = f.do(t, http.MethodGet, "/users")
	var after []models.LedgerUser
	decode(t, w, &after)
	require.Len(t, after, 2)
	assert.Equal(t, "1001", after[0].UserID)
	require.NotNil(t, after[0].Name)
	assert.Equal(t, "Aye Aye", *after[0].Name)

	var stored models.User
	require.NoError(t, f.db.First(&stored, "user_id = ?", "1001").Error)
	assert.Empty(t, stored.CardNo)
}

func TestLedgerUsersHandler_ServesFromCache(t *testing.T) {
	f := newHandlerFixture(t)
	name := "Cached"
	require.NoError(t, f.cache.SetObject(context.Background(), "attendance:ledger-users",
		[]models.LedgerUser{{UserID: "9", Name: &name}}, time.Minute))

	w := f.do(t, http.MethodGet, "/users")
	require.Equal(t, http.StatusOK, w.Code)
	var users []models.LedgerUser
	decode(t, w, &users)
	require.Len(t, users, 1)
	assert.Equal(t, "9", users[0].UserID)
}

func TestListAttendanceHandler(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/get_attendance").Code)

	w := f.do(t, http.MethodGet, "/attendance?user_id=1001&from=2024-03-04&to=2024-03-04")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Attendance []map[string]any `json:"attendance"`
	}
	decode(t, w, &body)
	require.Len(t, body.Attendance, 2)
	assert.Equal(t, "2024-03-04 08:00:00", body.Attendance[0]["timestamp"])
	assert.Equal(t, attendancesync.StatusCheckedOut, body.Attendance[1]["status"])

	w = f.do(t, http.MethodGet, "/attendance?from=2024-03-05")
	decode(t, w, &body)
	assert.Empty(t, body.Attendance)
}

func TestListAttendanceHandler_RejectsBadQuery(t *testing.T) {
	f := newHandlerFixture(t)
	for _, q := range []string{
		"/attendance?from=04-03-2024",
		"/attendance?to=tomorrow",
		"/attendance?from=2024-03-05&to=2024-03-04",
		"/attendance?limit=0",
		"/attendance?limit=abc",
	} {
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, q).Code, q)
	}
}

func TestExportAttendanceHandler(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/get_attendance").Code)

	w := f.do(t, http.MethodGet, "/attendance/export")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance.xlsx")

	book, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows("Attendance")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"UserID", "UID", "Timestamp", "Status", "Punch", "Terminal"}, rows[0])
	assert.Equal(t, "1001", rows[1][0])
	assert.Equal(t, "2024-03-04 08:00:00", rows[1][2])
}
