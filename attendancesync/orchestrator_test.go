package attendancesync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/attendance_backend/attendancesync"
	"github.com/mmdatafocus/attendance_backend/config"
	"github.com/mmdatafocus/attendance_backend/device"
	"github.com/mmdatafocus/attendance_backend/device/devicetest"
	"github.com/mmdatafocus/attendance_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(hosts ...string) *config.Config {
	cfg := &config.Config{
		DeviceTimeout:   200 * time.Millisecond,
		PollConcurrency: 2,
		Location:        time.UTC,
	}
	for _, h := range hosts {
		cfg.Terminals = append(cfg.Terminals, config.Terminal{Host: h, Port: 4370})
	}
	return cfg
}

func newOrchestrator(t *testing.T, cfg *config.Config, client device.Client, store attendancesync.LedgerStore) *attendancesync.Orchestrator {
	t.Helper()
	if store == nil {
		store = attendancesync.NewGormLedger(testutil.OpenLedgerDB(t))
	}
	engine := attendancesync.NewEngine(store, cfg.Location, discardLogger())
	return attendancesync.NewOrchestrator(cfg, client, engine, discardLogger())
}

func TestPollAll_IsolatesUnreachableTerminal(t *testing.T) {
	client := devicetest.NewClient()
	client.Set("10.0.0.1", devicetest.Terminal{Events: dayOfPunches()})
	client.Set("10.0.0.3", devicetest.Terminal{Events: []device.RawEvent{
		{UID: 9, UserID: "2001", Timestamp: "2024-03-04 09:00:00", Punch: 0},
	}})
	cfg := testConfig("10.0.0.1", "10.0.0.2", "10.0.0.3")

	outcomes := newOrchestrator(t, cfg, client, nil).PollAll(context.Background())
	require.Len(t, outcomes, 3)

	first := outcomes["10.0.0.1:4370"]
	require.True(t, first.OK(), first.Error)
	assert.Equal(t, 3, first.Report.Inserted)

	second := outcomes["10.0.0.2:4370"]
	assert.False(t, second.OK())
	assert.Nil(t, second.Report)
	assert.Equal(t, attendancesync.ErrorKindDeviceUnreachable, second.Kind)

	third := outcomes["10.0.0.3:4370"]
	require.True(t, third.OK(), third.Error)
	assert.Equal(t, 1, third.Report.Inserted)

	for _, host := range []string{"10.0.0.1", "10.0.0.3"} {
		n := client.Counts(host)
		assert.Equal(t, 1, n.Connects, host)
		assert.Equal(t, n.Connects, n.Closes, host)
		assert.Equal(t, n.Disables, n.Enables, host)
	}
	assert.Equal(t, devicetest.Counts{}, client.Counts("10.0.0.2"))
}

func TestPollAll_FetchTimeout(t *testing.T) {
	client := devicetest.NewClient()
	client.Set("10.0.0.1", devicetest.Terminal{Events: dayOfPunches(), FetchDelay: 5 * time.Second})
	cfg := testConfig("10.0.0.1")
	cfg.DeviceTimeout = 50 * time.Millisecond

	start := time.Now()
	outcomes := newOrchestrator(t, cfg, client, nil).PollAll(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)

	out := outcomes["10.0.0.1:4370"]
	assert.False(t, out.OK())
	assert.Equal(t, attendancesync.ErrorKindDeviceUnreachable, out.Kind)

	n := client.Counts("10.0.0.1")
	assert.Equal(t, 1, n.Enables, "terminal must be resumed after a timed out fetch")
	assert.Equal(t, 1, n.Closes)
}

func TestPollAll_ReleaseFailuresAreWarnings(t *testing.T) {
	client := devicetest.NewClient()
	client.Set("10.0.0.1", devicetest.Terminal{
		Events:    dayOfPunches(),
		EnableErr: errors.New("enable rejected"),
		CloseErr:  errors.New("socket already closed"),
	})
	cfg := testConfig("10.0.0.1")

	out := newOrchestrator(t, cfg, client, nil).PollAll(context.Background())["10.0.0.1:4370"]
	require.True(t, out.OK(), out.Error)
	assert.Equal(t, 3, out.Report.Inserted)
	assert.Len(t, out.Warnings, 2)
}

func TestPollAll_DeviceErrorKind(t *testing.T) {
	client := devicetest.NewClient()
	client.Set("10.0.0.1", devicetest.Terminal{FetchErr: errors.New("bad checksum")})
	cfg := testConfig("10.0.0.1")

	out := newOrchestrator(t, cfg, client, nil).PollAll(context.Background())["10.0.0.1:4370"]
	assert.Equal(t, attendancesync.ErrorKindDevice, out.Kind)
	assert.Contains(t, out.Error, "bad checksum")
	assert.Equal(t, 1, client.Counts("10.0.0.1").Enables)
}

func TestPollAll_StoreFailureKind(t *testing.T) {
	client := devicetest.NewClient()
	client.Set("10.0.0.1", devicetest.Terminal{Events: dayOfPunches()})
	cfg := testConfig("10.0.0.1")
	db := testutil.OpenLedgerDB(t)
	store := failingLedger{inner: attendancesync.NewGormLedger(db), after: 0}

	out := newOrchestrator(t, cfg, client, store).PollAll(context.Background())["10.0.0.1:4370"]
	assert.False(t, out.OK())
	assert.Equal(t, attendancesync.ErrorKindStoreUnavailable, out.Kind)
	assert.Equal(t, 1, client.Counts("10.0.0.1").Closes)
	assert.EqualValues(t, 0, countRows(t, db))
}

func TestFetchUsers_FirstTerminal(t *testing.T) {
	client := devicetest.NewClient()
	client.Set("10.0.0.1", devicetest.Terminal{Users: []device.UserRecord{
		{UID: 1, UserID: "1001", Name: "Aye Aye"},
	}})
	client.Set("10.0.0.2", devicetest.Terminal{Users: []device.UserRecord{
		{UID: 2, UserID: "2002", Name: "Other"},
	}})
	cfg := testConfig("10.0.0.1", "10.0.0.2")

	users, err := newOrchestrator(t, cfg, client, nil).FetchUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Aye Aye", users[0].Name)
	assert.Zero(t, client.Counts("10.0.0.2").Connects)
}
