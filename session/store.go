// Package session persists browsing state (cookies and local storage)
// between jobs under caller-chosen ids.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// ErrNotFound is returned by Load and Delete for unknown ids.
var ErrNotFound = errors.New("session: not found")

// idPattern keeps ids safe as file names and redis keys.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateID rejects ids that are not usable as storage keys.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("session: invalid id %q", id)
	}
	return nil
}

// Store is the persistence backend for sessions. Saving an existing id
// overwrites it.
type Store interface {
	Load(ctx context.Context, id string) (*models.SessionState, error)
	Save(ctx context.Context, id string, state *models.SessionState) error
	List(ctx context.Context) ([]models.SessionInfo, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Open returns the backend selected by cfg.
func Open(cfg config.SessionConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	case "redis":
		return NewRedisStore(RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("session: unknown backend %q", cfg.Backend)
	}
}

func info(id string, s *models.SessionState) models.SessionInfo {
	return models.SessionInfo{
		ID:      id,
		Cookies: len(s.Cookies),
		Origins: len(s.LocalStorage),
		SavedAt: s.SavedAt,
	}
}
