package app

import (
	"context"
	"strings"

	"github.com/fiffu/reviewwatch/config"
	"github.com/fiffu/reviewwatch/lib/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	dialector, kind := openDialector(cfg.DatabaseDSN)
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if kind == "sqlite" {
		// One writer at a time; the busy timeout covers the rest.
		sqlDB.SetMaxOpenConns(1)
	}
	lc.Append(fx.StopHook(sqlDB.Close))

	log.Sugar().Infow("Database started", "driver", kind)
	return db, nil
}

func openDialector(dsn string) (gorm.Dialector, string) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.HasPrefix(dsn, "host=") {
		return postgres.Open(dsn), "postgres"
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	return sqlite.Open(dsn), "sqlite"
}

func NewStore(log *zap.Logger, db *gorm.DB) (*store.Store, error) {
	st := store.New(db)

	log.Info("Starting migrations")
	if err := st.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return st, nil
}
