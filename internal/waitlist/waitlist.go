// Package waitlist captures pre-launch signups.
package waitlist

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrInvalidEmail is returned for an empty email.
var ErrInvalidEmail = errors.New("waitlist: email is required")

// StatusPending is the status of every new entry.
const StatusPending = "pending"

// Entry is one waitlist signup. Email is stored lower-cased.
type Entry struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists waitlist entries.
type Store interface {
	// Add inserts e unless its email is already present. created is false for
	// a duplicate, in which case nothing is written.
	Add(ctx context.Context, e *Entry) (created bool, err error)
}

// NormalizeEmail trims and case-folds an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
