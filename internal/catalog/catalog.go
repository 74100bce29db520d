// Package catalog loads task definitions and the user roster from YAML.
// Files are re-read on every call so catalog edits take effect on the next
// generation run without a restart.
package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"choreflow/internal/domain"
)

// ErrDuplicateID marks a catalog or roster with two entries sharing an id.
// Duplicate ids are a configuration error and abort the run.
var ErrDuplicateID = errors.New("duplicate id")

// Provider supplies fresh catalog snapshots for one generation run.
type Provider interface {
	Tasks() ([]domain.TaskDefinition, error)
	Users() ([]domain.UserProfile, error)
}

// Files is a Provider backed by two YAML files on disk.
type Files struct {
	TasksPath string
	UsersPath string
}

// Tasks parses and validates the task catalog in file order.
func (f Files) Tasks() ([]domain.TaskDefinition, error) {
	data, err := os.ReadFile(f.TasksPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: read tasks: %w", err)
	}
	return ParseTasks(data)
}

// Users parses and validates the roster in file order.
func (f Files) Users() ([]domain.UserProfile, error) {
	data, err := os.ReadFile(f.UsersPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: read users: %w", err)
	}
	return ParseUsers(data)
}

// ParseTasks decodes a task catalog payload and validates every definition.
func ParseTasks(data []byte) ([]domain.TaskDefinition, error) {
	var tasks []domain.TaskDefinition
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("catalog: decode tasks: %w", err)
	}
	seen := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		if seen[t.ID] {
			return nil, fmt.Errorf("catalog: task id %d: %w", t.ID, ErrDuplicateID)
		}
		seen[t.ID] = true
		if t.Name == "" {
			return nil, fmt.Errorf("catalog: task id %d has no name", t.ID)
		}
		if t.DaysInterval < 0 {
			return nil, fmt.Errorf("catalog: task %q: days_interval must be >= 0", t.Name)
		}
		if t.Effort < 0 {
			return nil, fmt.Errorf("catalog: task %q: effort must be >= 0", t.Name)
		}
		for _, day := range t.AllowedDays {
			if !domain.ValidWeekdayTag(day) {
				return nil, fmt.Errorf("catalog: task %q: unknown weekday %q", t.Name, day)
			}
		}
	}
	return tasks, nil
}

// ParseUsers decodes a roster payload and validates every profile.
func ParseUsers(data []byte) ([]domain.UserProfile, error) {
	var users []domain.UserProfile
	if err := yaml.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("catalog: decode users: %w", err)
	}
	seen := make(map[int]bool, len(users))
	for _, u := range users {
		if seen[u.ID] {
			return nil, fmt.Errorf("catalog: user id %d: %w", u.ID, ErrDuplicateID)
		}
		seen[u.ID] = true
		if u.Username == "" {
			return nil, fmt.Errorf("catalog: user id %d has no username", u.ID)
		}
		for day, budget := range u.AvailableDailyEffort {
			if !domain.ValidWeekdayTag(day) {
				return nil, fmt.Errorf("catalog: user %q: unknown weekday %q", u.Username, day)
			}
			if budget < 0 {
				return nil, fmt.Errorf("catalog: user %q: %s budget must be >= 0", u.Username, day)
			}
		}
	}
	return users, nil
}

// TasksByID indexes a catalog for name lookups. Input is assumed validated.
func TasksByID(tasks []domain.TaskDefinition) map[int]domain.TaskDefinition {
	byID := make(map[int]domain.TaskDefinition, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return byID
}
