// Package notify builds the human-readable digest of today's pending work.
// It is a pure read-side projection of store state and never mutates an
// instance.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"choreflow/internal/domain"
	"choreflow/internal/store"
)

// ErrUnsupportedLanguage marks an unknown display-language tag. It is a
// caller-input error and is raised before any store access.
var ErrUnsupportedLanguage = errors.New("notify: unsupported language")

const (
	// DefaultLanguage is used when the caller passes no language.
	DefaultLanguage = "en"

	noNotifications = "No notifications"
)

var leadInByLanguage = map[string]string{
	"en": "your tasks are",
	"es": "tus tareas son",
}

// Message is the assembled notification for one date.
type Message struct {
	Available bool   `json:"notification_available"`
	Text      string `json:"notification_message"`
}

// BuildMessage collects each user's pending instances for the date and joins
// the resolved task names into one per-user phrase. Available is false, with
// a fixed text, when no user has pending work.
func BuildMessage(ctx context.Context, st store.Store, date time.Time, users []domain.UserProfile, tasksByID map[int]domain.TaskDefinition, language string) (Message, error) {
	leadIn, err := leadInFor(language)
	if err != nil {
		return Message{}, err
	}

	var b strings.Builder
	available := false
	for _, user := range users {
		names, err := pendingTaskNames(ctx, st, date, user.ID, tasksByID)
		if err != nil {
			return Message{}, err
		}
		if len(names) == 0 {
			continue
		}
		available = true
		fmt.Fprintf(&b, "\n%s, %s: %s.", user.Username, leadIn, strings.Join(names, ", "))
	}
	if !available {
		return Message{Available: false, Text: noNotifications}, nil
	}
	return Message{Available: true, Text: b.String()}, nil
}

func leadInFor(language string) (string, error) {
	if language == "" {
		language = DefaultLanguage
	}
	leadIn, ok := leadInByLanguage[language]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	return leadIn, nil
}

func pendingTaskNames(ctx context.Context, st store.Store, date time.Time, userID int, tasksByID map[int]domain.TaskDefinition) ([]string, error) {
	status := domain.StatusPending
	instances, err := st.Query(ctx, store.Filter{Date: &date, Status: &status, UserID: &userID})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(instances))
	for _, inst := range instances {
		if task, ok := tasksByID[inst.TaskID]; ok {
			names = append(names, task.Name)
		}
	}
	return names, nil
}
