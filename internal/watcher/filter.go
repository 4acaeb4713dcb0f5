package watcher

import (
	"fmt"
	"path/filepath"
	"strings"
)

func normalizeFilters(filters []string) []string {
	if len(filters) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(filters))
	for _, filter := range filters {
		filter = strings.ToLower(strings.TrimSpace(filter))
		if filter == "" {
			continue
		}
		normalized = append(normalized, filter)
	}
	return normalized
}

func validateFilters(filters []string) error {
	for _, filter := range filters {
		if _, err := filepath.Match(strings.ToLower(strings.TrimSpace(filter)), ""); err != nil {
			return fmt.Errorf("invalid filter %q: %w", filter, err)
		}
	}
	return nil
}

func matchesFilters(filters []string, name string) bool {
	if len(filters) == 0 {
		return true
	}
	lowered := strings.ToLower(name)
	for _, filter := range filters {
		if ok, _ := filepath.Match(filter, lowered); ok {
			return true
		}
	}
	return false
}
