// Package crontab reads rule files.
package crontab

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/amariwan/cronexec/internal/cronfield"
	"github.com/amariwan/cronexec/internal/models"
	"github.com/amariwan/cronexec/internal/util"
)

// ErrMissingFields is returned for lines with fewer than six tokens.
var ErrMissingFields = errors.New("missing fields")

// Template is written when the rule file does not exist yet.
const Template = `# * * * * * <command>
# - - - - -
# | | | | |
# | | | | +----- day of week (0 - 6) (Sunday=0)
# | | | +------- month (1 - 12)
# | | +--------- day of month (1 - 31)
# | +----------- hour (0 - 23)
# +------------- minute (0 - 59)
#
# Example:
# * * * * * say Hello
# 0 0 * * * say Good night
`

// LoadResult is the outcome of reading a rule file.
type LoadResult struct {
	Rules    models.RuleSet
	Rejected int  // malformed lines that were skipped
	Created  bool // the file was missing and the template was written
}

// Load reads the rule file at path. Malformed lines are logged and skipped.
// A missing file is created from Template and yields an empty set with no
// error. Any other I/O failure yields an empty set and the error.
func Load(path string, logger util.Logger) (LoadResult, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("Crontab file not found, creating template", "path", path)
		if err := WriteTemplate(path); err != nil {
			logger.Error("Failed to create crontab template", "path", path, "error", err)
			return LoadResult{Rules: models.RuleSet{}}, err
		}
		return LoadResult{Rules: models.RuleSet{}, Created: true}, nil
	}
	if err != nil {
		logger.Error("Failed to open crontab", "path", path, "error", err)
		return LoadResult{Rules: models.RuleSet{}}, fmt.Errorf("failed to open crontab: %w", err)
	}
	defer f.Close()

	res, err := Parse(f, logger)
	if err != nil {
		logger.Error("Failed to read crontab", "path", path, "error", err)
		return LoadResult{Rules: models.RuleSet{}}, fmt.Errorf("failed to read crontab: %w", err)
	}
	return res, nil
}

// Parse reads rules from r. Lines may be of any length. Only read errors
// are returned; a failed read discards the partial result.
func Parse(r io.Reader, logger util.Logger) (LoadResult, error) {
	res := LoadResult{Rules: models.RuleSet{}}
	reader := bufio.NewReader(r)
	lineNo := 0
	for {
		text, err := reader.ReadString('\n')
		if text != "" {
			lineNo++
			res.add(strings.TrimSpace(text), lineNo, logger)
		}
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return LoadResult{Rules: models.RuleSet{}}, err
		}
	}
}

func (res *LoadResult) add(line string, lineNo int, logger util.Logger) {
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	rule, err := ParseLine(line)
	if err != nil {
		logger.Error("Error parsing crontab line", "line", lineNo, "text", truncate(line, 200), "error", err)
		res.Rejected++
		return
	}
	rule.Line = lineNo
	res.Rules = append(res.Rules, rule)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ParseLine splits a rule line into five field expressions and a command.
// The command absorbs everything after the fifth field.
func ParseLine(line string) (models.Rule, error) {
	var parts [6]string
	rest := strings.TrimSpace(line)
	for i := 0; i < 5; i++ {
		idx := strings.IndexFunc(rest, unicode.IsSpace)
		if idx < 0 {
			return models.Rule{}, fmt.Errorf("%w: want 6, got %d", ErrMissingFields, len(strings.Fields(line)))
		}
		parts[i] = rest[:idx]
		rest = strings.TrimLeftFunc(rest[idx:], unicode.IsSpace)
	}
	parts[5] = rest

	for i, field := range cronfield.Fields {
		if err := cronfield.Validate(parts[i], field); err != nil {
			return models.Rule{}, err
		}
	}

	return models.Rule{
		Minute:  parts[0],
		Hour:    parts[1],
		Day:     parts[2],
		Month:   parts[3],
		Weekday: parts[4],
		Command: parts[5],
	}, nil
}

// WriteTemplate creates path (and its directory) containing Template.
func WriteTemplate(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create crontab directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(Template), 0o644); err != nil {
		return fmt.Errorf("failed to write crontab template: %w", err)
	}
	return nil
}
