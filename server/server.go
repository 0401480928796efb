package server

import (
	"context"
	"fmt"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/rekapu/go-rekapu/env"
	"github.com/rekapu/go-rekapu/service/backup"
	"github.com/rekapu/go-rekapu/service/logger"
	"github.com/rekapu/go-rekapu/service/persist"
	"github.com/rekapu/go-rekapu/service/persist/memstore"
	"github.com/rekapu/go-rekapu/service/persist/redis"
	"github.com/rekapu/go-rekapu/util"
)

// Init initializes the server and blocks serving requests
func Init() {
	setDefaults()
	initSentry()

	router := CoreInit(newStore())
	if err := router.Run(fmt.Sprintf(":%d", viper.GetInt("PORT"))); err != nil {
		logger.For(nil).Fatalf("server exited: %s", err)
	}
}

// CoreInit initializes core server functionality. This is abstracted
// so the test server can also utilize it
func CoreInit(store persist.Store) *gin.Engine {
	logger.For(nil).Info("initializing server...")

	if viper.GetString("ENV") != "production" {
		gin.SetMode(gin.DebugMode)
		logrus.SetLevel(logrus.DebugLevel)
	}

	router := gin.Default()

	progress := backup.NewProgressRegistry(time.Duration(viper.GetInt("OPERATION_TTL_SECS")) * time.Second)
	manager := backup.NewManager(store, newSnapshotRepository(store), progress)

	return handlersInit(router, manager)
}

// newSnapshotRepository keeps snapshots as durable as the store they
// protect: a redis-backed store gets redis-backed snapshots
func newSnapshotRepository(store persist.Store) persist.SnapshotRepository {
	retention := viper.GetInt("SNAPSHOT_RETENTION")
	if rs, ok := store.(*redis.Store); ok {
		return redis.NewSnapshotRepository(rs.Client(), retention)
	}
	return memstore.NewSnapshotRepository(retention)
}

func newStore() persist.Store {
	if viper.GetString("STORE_BACKEND") == "redis" {
		return redis.NewStore(context.Background())
	}
	return memstore.NewStore()
}

func handlersInit(router *gin.Engine, manager *backup.Manager) *gin.Engine {
	router.GET("/health", util.HealthCheckHandler())

	group := router.Group("/backup")
	group.POST("/export", exportBackup(manager))
	group.POST("/import/detect", detectImportConflicts(manager))
	group.POST("/import", importLegacy(manager))
	group.POST("/import/resolve", importWithResolution(manager))
	group.GET("/snapshots", listSnapshots(manager))
	group.POST("/snapshots/restore", restoreSnapshot(manager))
	group.POST("/snapshots/delete", deleteSnapshot(manager))
	group.GET("/validate", validateIntegrity(manager))
	group.GET("/operations/:id", getOperation(manager))

	return router
}

func setDefaults() {
	viper.SetDefault("ENV", "local")
	viper.SetDefault("PORT", 4000)
	viper.SetDefault("STORE_BACKEND", "memory")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("REDIS_PASS", "")
	viper.SetDefault("SNAPSHOT_RETENTION", memstore.DefaultSnapshotRetention)
	viper.SetDefault("OPERATION_TTL_SECS", 300)
	viper.SetDefault("SENTRY_TRACES_SAMPLE_RATE", 0.2)
	viper.SetDefault("VERSION", "")
	viper.AutomaticEnv()
}

func initSentry() {
	if viper.GetString("ENV") == "local" {
		logger.For(nil).Info("skipping sentry init")
		return
	}

	dsn, ok := env.GetIfExists[string](context.Background(), "SENTRY_DSN")
	if !ok || dsn == "" {
		logger.For(nil).Warn("SENTRY_DSN not set, skipping sentry init")
		return
	}

	logger.For(nil).Info("initializing sentry...")

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      viper.GetString("ENV"),
		TracesSampleRate: viper.GetFloat64("SENTRY_TRACES_SAMPLE_RATE"),
		Release:          viper.GetString("VERSION"),
		AttachStacktrace: true,
	})
	if err != nil {
		logger.For(nil).Fatalf("failed to start sentry: %s", err)
	}
}
