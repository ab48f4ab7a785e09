package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/amariwan/cronexec/internal/models"
)

// Renderer renders a rule listing in one format
type Renderer interface {
	Render(rules models.RuleSet) ([]byte, error)
	ContentType() string
}

// ForFormat returns the renderer for text, json or markdown.
func ForFormat(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return NewTextRenderer(), nil
	case "json":
		return NewJSONRenderer(), nil
	case "markdown", "md":
		return NewMarkdownRenderer(), nil
	default:
		return nil, fmt.Errorf("unknown format %q (text|json|markdown)", format)
	}
}

// FormatText is the plain listing: a header and one line per rule.
func FormatText(rules models.RuleSet) string {
	var b strings.Builder
	b.WriteString("Crontab tasks:")
	for _, r := range rules {
		fmt.Fprintf(&b, "\nMinute: %s, Hour: %s, Day: %s, Month: %s, Weekday: %s, Command: %s",
			r.Minute, r.Hour, r.Day, r.Month, r.Weekday, r.Command)
	}
	return b.String()
}

// TextRenderer generates the plain listing
type TextRenderer struct{}

func NewTextRenderer() *TextRenderer {
	return &TextRenderer{}
}

func (r *TextRenderer) Render(rules models.RuleSet) ([]byte, error) {
	return []byte(FormatText(rules) + "\n"), nil
}

func (r *TextRenderer) ContentType() string { return "text/plain; charset=utf-8" }

// JSONRenderer generates JSON listings
type JSONRenderer struct{}

func NewJSONRenderer() *JSONRenderer {
	return &JSONRenderer{}
}

func (r *JSONRenderer) Render(rules models.RuleSet) ([]byte, error) {
	if rules == nil {
		rules = models.RuleSet{}
	}
	data, err := json.MarshalIndent(map[string]interface{}{
		"count": len(rules),
		"rules": rules,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

func (r *JSONRenderer) ContentType() string { return "application/json" }

// MarkdownRenderer generates a Markdown table
type MarkdownRenderer struct{}

func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{}
}

func (r *MarkdownRenderer) Render(rules models.RuleSet) ([]byte, error) {
	var md strings.Builder

	md.WriteString("# Crontab\n\n")
	md.WriteString(fmt.Sprintf("**Tasks:** %d\n\n", len(rules)))
	if len(rules) == 0 {
		return []byte(md.String()), nil
	}

	md.WriteString("| Line | Minute | Hour | Day | Month | Weekday | Command |\n")
	md.WriteString("|------|--------|------|-----|-------|---------|---------|\n")
	for _, rule := range rules {
		md.WriteString(fmt.Sprintf("| %d | `%s` | `%s` | `%s` | `%s` | `%s` | `%s` |\n",
			rule.Line, rule.Minute, rule.Hour, rule.Day, rule.Month, rule.Weekday,
			strings.ReplaceAll(rule.Command, "|", `\|`)))
	}

	return []byte(md.String()), nil
}

func (r *MarkdownRenderer) ContentType() string { return "text/markdown; charset=utf-8" }
