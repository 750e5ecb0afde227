package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_NAME", "attendance_system")
	t.Setenv("BIOMETRIC_IPS", "")
	t.Setenv("BIOMETRIC_IP_1", "")
	t.Setenv("BIOMETRIC_PORT", "")
	t.Setenv("LEDGER_TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "")
}

func TestFromEnv_TerminalList(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("BIOMETRIC_IPS", "192.168.1.201, 192.168.1.202:4371")
	t.Setenv("BIOMETRIC_PORT", "4370")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if len(cfg.Terminals) != 2 {
		t.Fatalf("expected 2 terminals, got %d", len(cfg.Terminals))
	}
	if got := cfg.Terminals[0].ID(); got != "192.168.1.201:4370" {
		t.Fatalf("expected shared port on first terminal, got %s", got)
	}
	if got := cfg.Terminals[1].ID(); got != "192.168.1.202:4371" {
		t.Fatalf("expected explicit port on second terminal, got %s", got)
	}
	if cfg.DeviceTimeout != 5*time.Second {
		t.Fatalf("expected default device timeout 5s, got %s", cfg.DeviceTimeout)
	}
	if cfg.Port != "9000" {
		t.Fatalf("expected default port 9000, got %s", cfg.Port)
	}
	if cfg.Location != time.UTC {
		t.Fatalf("expected UTC location, got %s", cfg.Location)
	}
}

func TestFromEnv_NumberedTerminals(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("BIOMETRIC_IP_1", "10.0.0.1")
	t.Setenv("BIOMETRIC_IP_2", "10.0.0.2")
	t.Setenv("BIOMETRIC_IP_3", "")
	t.Setenv("BIOMETRIC_PORT", "4370")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if len(cfg.Terminals) != 2 {
		t.Fatalf("expected 2 terminals, got %d", len(cfg.Terminals))
	}
	if cfg.Terminals[1].Host != "10.0.0.2" || cfg.Terminals[1].Port != 4370 {
		t.Fatalf("unexpected second terminal %+v", cfg.Terminals[1])
	}
}

func TestFromEnv_Rejects(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "no terminals", env: map[string]string{}, want: "no terminals configured"},
		{name: "duplicate terminals", env: map[string]string{"BIOMETRIC_IPS": "10.0.0.1,10.0.0.1"}, want: "invalid configuration"},
		{name: "bad port", env: map[string]string{"BIOMETRIC_IPS": "10.0.0.1:notaport"}, want: "invalid port"},
		{name: "port out of range", env: map[string]string{"BIOMETRIC_IPS": "10.0.0.1:70000"}, want: "invalid configuration"},
		{name: "zero timeout", env: map[string]string{"BIOMETRIC_IPS": "10.0.0.1", "DEVICE_TIMEOUT_SECONDS": "0"}, want: "invalid configuration"},
		{name: "bad timezone", env: map[string]string{"BIOMETRIC_IPS": "10.0.0.1", "LEDGER_TIMEZONE": "Mars/Base"}, want: "LEDGER_TIMEZONE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv("DEVICE_TIMEOUT_SECONDS", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	db := Database{User: "root", Password: "pw", Host: "localhost", Port: "3306", Name: "attendance_system"}
	dsn := db.DSN(time.UTC)
	if dsn != "root:pw@tcp(localhost:3306)/attendance_system?parseTime=true&loc=UTC&charset=utf8mb4" {
		t.Fatalf("unexpected dsn %s", dsn)
	}

	db.Host = "/cloudsql/project:region:instance"
	if dsn := db.DSN(time.Local); !strings.Contains(dsn, "@unix(/cloudsql/project:region:instance)/") || !strings.Contains(dsn, "loc=Local") {
		t.Fatalf("expected unix socket dsn with Local, got %s", dsn)
	}
}
