package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/attendance_backend/attendancesync"
	"github.com/mmdatafocus/attendance_backend/config"
	"github.com/mmdatafocus/attendance_backend/device"
	"github.com/mmdatafocus/attendance_backend/middlewares"
	"github.com/mmdatafocus/attendance_backend/models"
	"github.com/sirupsen/logrus"
)

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithFields(logrus.Fields{"field": "config"}).Fatal(err.Error())
	}

	logger, logCloser, err := config.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		logrus.WithFields(logrus.Fields{"field": "logger"}).Fatal(err.Error())
	}
	defer logCloser.Close()

	// SIGTERM starts a graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	db, err := config.ConnectDatabaseWithRetry(sigCtx, cfg, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "database"}).Fatal(err.Error())
	}
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	// AutoMigrate can block tables; allow running it as a separate job.
	if !cfg.SkipMigrations {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Redis is optional: without it there is no users cache, no cross-replica
	// poll lock and no rate limiting.
	rdb, err := config.ConnectRedis(sigCtx, cfg.RedisAddress)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "redis"}).Warn("redis unavailable; continuing without it: " + err.Error())
		rdb = nil
	}
	defer rdb.Close()

	engine := attendancesync.NewEngine(attendancesync.NewGormLedger(db), cfg.Location, logger)
	orch := attendancesync.NewOrchestrator(cfg, device.NewGatewayClient(nil), engine, logger)

	var cache attendancesync.UsersCache
	if rdb != nil {
		cache = rdb
	}
	h := attendancesync.NewHandler(cfg, orch, db, cache, logger)

	r := gin.New()
	r.Use(middlewares.CorrelationID())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production requires an explicit allowlist; an empty one denies all.
	if cfg.IsProduction() {
		corsConfig.AllowOrigins = cfg.AllowOrigins
		if corsConfig.AllowOrigins == nil {
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")

	r.Use(cors.New(corsConfig))
	r.Use(middlewares.RequestLogger(logger))
	r.Use(middlewares.Recovery(logger))

	// Routes that open device sessions.
	deviceRoutes := r.Group("/")
	if cfg.RateLimitEnabled {
		if rdb != nil {
			limiter := middlewares.NewRateLimiter(rdb, cfg.RateLimitMax, cfg.RateLimitWindow, logger)
			deviceRoutes.Use(limiter.Middleware())
		} else {
			logger.WithFields(logrus.Fields{"field": "ratelimit"}).Warn("RATE_LIMIT_ENABLED=true but redis is not configured; rate limiting disabled")
		}
	}
	deviceRoutes.GET("/get_attendance", h.PollHandler())
	deviceRoutes.GET("/get_users", h.DeviceUsersHandler())
	deviceRoutes.POST("/sync_users", h.SyncUsersHandler())

	r.GET("/", h.InfoHandler())
	r.GET("/users", h.LedgerUsersHandler())
	r.GET("/attendance", h.ListAttendanceHandler())
	r.GET("/attendance/export", h.ExportAttendanceHandler())
	r.NoRoute(customNotFoundHandler)

	schedulerCtx, cancelScheduler := context.WithCancel(sigCtx)
	defer cancelScheduler()
	schedulerDone := make(chan struct{})
	if cfg.PollInterval > 0 {
		var locker attendancesync.CycleLocker
		if rdb != nil {
			locker = attendancesync.NewRedisCycleLocker(rdb.Locker, max(cfg.PollInterval, time.Minute))
		}
		go func() {
			defer close(schedulerDone)
			attendancesync.NewScheduler(orch, cfg.PollInterval, locker, logger).Run(schedulerCtx)
		}()
	} else {
		close(schedulerDone)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	logger.WithFields(logrus.Fields{
		"port":      cfg.Port,
		"terminals": len(cfg.Terminals),
		"interval":  cfg.PollInterval.String(),
	}).Info("attendance service started")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop the scheduler before draining so no new cycle starts.
	cancelScheduler()
	<-schedulerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
