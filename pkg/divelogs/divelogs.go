// Package divelogs stores dive-journal entries per user.
package divelogs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/freedive-ai/coach/pkg/models"
)

// ErrNotFound is returned when a dive log does not exist.
var ErrNotFound = errors.New("dive log not found")

// Store persists and retrieves dive logs.
type Store interface {
	// Save stores a dive log, assigning ID and CreatedAt when empty.
	Save(ctx context.Context, log *models.DiveLog) error
	// Get returns one dive log by ID.
	Get(ctx context.Context, id string) (*models.DiveLog, error)
	// Recent returns a user's most recent dive logs, newest first.
	Recent(ctx context.Context, userID string, limit int) ([]models.DiveLog, error)
	// Close releases resources.
	Close() error
}

// Validate checks the fields a dive log must carry before it is stored.
func Validate(log *models.DiveLog) error {
	if strings.TrimSpace(log.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	if strings.TrimSpace(log.Discipline) == "" {
		return fmt.Errorf("discipline is required")
	}
	if log.TargetDepth < 0 || log.ReachedDepth < 0 {
		return fmt.Errorf("depths must not be negative")
	}
	return nil
}

const defaultLimit = 5

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > 100 {
		return 100
	}
	return limit
}
