package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

const dateLayout = "20060102"

// ResolvePath turns the configured alert path into the file to tail at now.
// "{date}" and "{today}" expand to now as YYYYMMDD. When the result is a
// directory, the most recently modified *.log file inside it is returned.
func ResolvePath(pattern string, now time.Time) (string, error) {
	day := now.Format(dateLayout)
	p := strings.NewReplacer("{date}", day, "{today}", day).Replace(pattern)

	fi, err := os.Stat(p)
	if err != nil || !fi.IsDir() {
		// A missing file is fine; it is tailed from the start once created.
		return p, nil
	}
	return newestLog(p)
}

// IsDirectoryPattern reports whether pattern names an existing directory.
func IsDirectoryPattern(pattern string) bool {
	if strings.Contains(pattern, "{date}") || strings.Contains(pattern, "{today}") {
		return false
	}
	fi, err := os.Stat(pattern)
	return err == nil && fi.IsDir()
}

func newestLog(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return "", fmt.Errorf("monitor: list %s: %w", dir, err)
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		// Ties go to the lexically greater name, which for dated log
		// names is the later day.
		if best == "" || fi.ModTime().After(bestMod) || (fi.ModTime().Equal(bestMod) && m > best) {
			best, bestMod = m, fi.ModTime()
		}
	}
	if best == "" {
		return "", fmt.Errorf("monitor: no *.log file in %s: %w", dir, domain.ErrNotFound)
	}
	return best, nil
}
