package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiffu/reviewwatch/lib/models"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrClaimContention = errors.New("schedule claim contention")
	ErrStaleClaim      = errors.New("schedule changed since it was claimed")
)

// StorageError is returned for any failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return &StorageError{Op: op, Err: err}
}

// Store is the only shared state between the interactive path and the sweep.
// Every mutation is a single conditional statement or runs inside a transaction.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db}
}

func (s *Store) Migrate(ctx context.Context) error {
	return wrap("migrate", s.db.WithContext(ctx).AutoMigrate(models.AllTables()...))
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrap("ping", err)
	}
	return wrap("ping", sqlDB.PingContext(ctx))
}

// MissingTables lists the tables the service needs that do not exist.
func (s *Store) MissingTables(ctx context.Context) []string {
	migrator := s.db.WithContext(ctx).Migrator()

	var missing []string
	for _, table := range models.AllTables() {
		if !migrator.HasTable(table) {
			missing = append(missing, table.(schema.Tabler).TableName())
		}
	}
	return missing
}
