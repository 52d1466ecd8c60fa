// Package cache persists emitted bytecode modules in a SQLite database so
// an unchanged query skips the compilation stages on its next execution.
// Cache trouble is never fatal: a failed open, read, or write degrades to a
// recompile.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is one open cache database.
type Store struct {
	db *gorm.DB
}

// Connect opens (creating if needed) the cache at dsn and runs migrations.
func Connect(dsn string, debug bool) (*Store, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: creating database directory: %w", err)
		}
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to connect: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("cache: migration failed: %w", err)
	}
	return &Store{db: db}, nil
}

// HashQuery returns the cache key component for a query's full source text.
func HashQuery(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached module for (queryHash, grammar), if present.
func (s *Store) Get(queryHash, grammar string) ([]byte, bool) {
	var e Entry
	err := s.db.Where("query_hash = ? AND grammar = ?", queryHash, grammar).First(&e).Error
	if err != nil {
		return nil, false
	}
	return e.Module, true
}

// Put stores module under (queryHash, grammar), replacing any previous
// entry. meta is marshaled into the row's JSON column.
func (s *Store) Put(queryHash, grammar string, module []byte, meta any) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache: marshaling metadata: %w", err)
	}
	s.db.Where("query_hash = ? AND grammar = ?", queryHash, grammar).Delete(&Entry{})
	e := Entry{QueryHash: queryHash, Grammar: grammar, Module: module, Meta: metaJSON}
	if err := s.db.Create(&e).Error; err != nil {
		return fmt.Errorf("cache: storing module: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
