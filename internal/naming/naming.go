// Package naming decides where watched files end up.
package naming

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const DefaultSubFolderPattern = "%y-%mo"

const maxSuffix = 9999

var patternTokens = []struct {
	token  string
	layout string
}{
	{token: "%y", layout: "2006"},
	{token: "%mo", layout: "01"},
	{token: "%mi", layout: "04"},
	{token: "%d", layout: "02"},
	{token: "%h", layout: "15"},
}

// ExpandPattern substitutes date tokens in a sub-folder pattern.
func ExpandPattern(pattern string, now time.Time) string {
	expanded := pattern
	for _, token := range patternTokens {
		expanded = strings.ReplaceAll(expanded, token.token, now.Format(token.layout))
	}
	return filepath.FromSlash(expanded)
}

// ScreenshotsFolder joins root with the expanded pattern. An empty pattern
// uses DefaultSubFolderPattern; "-" disables the sub-folder.
func ScreenshotsFolder(root, pattern string, now time.Time) string {
	if root == "" {
		return ""
	}
	switch strings.TrimSpace(pattern) {
	case "":
		pattern = DefaultSubFolderPattern
	case "-":
		return root
	}
	sub := ExpandPattern(pattern, now)
	if sub == "" {
		return root
	}
	return filepath.Join(root, sub)
}

// ResolveConflictingName returns dir/name, or dir/base(N).ext for the first
// N that does not exist yet.
func ResolveConflictingName(dir, name string) (string, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return "", errors.New("file name is required")
	}
	candidate := filepath.Join(dir, name)
	if !exists(candidate) {
		return candidate, nil
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for index := 1; index <= maxSuffix; index++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s(%d)%s", base, index, ext))
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
