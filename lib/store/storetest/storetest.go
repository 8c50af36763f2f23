// Package storetest opens isolated in-memory databases for tests.
package storetest

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/fiffu/reviewwatch/lib/models"
	"github.com/fiffu/reviewwatch/lib/store"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// NewDB returns a migrated sqlite database private to the calling test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := unsafeChars.ReplaceAllString(t.Name(), "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Shared-cache sqlite locks whole tables on write, so serialize access.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllTables()...))
	return db
}

func New(t testing.TB) *store.Store {
	return store.New(NewDB(t))
}
