package models

import (
	"time"
)

// Rule is one crontab line. Field expressions are kept raw and evaluated
// by cronfield at tick time.
type Rule struct {
	Minute  string `json:"minute"`
	Hour    string `json:"hour"`
	Day     string `json:"day"`
	Month   string `json:"month"`
	Weekday string `json:"weekday"`
	Command string `json:"command"`
	Line    int    `json:"line,omitempty"` // 1-based source line, diagnostics only
}

// Fields returns the five time expressions in rule order.
func (r Rule) Fields() [5]string {
	return [5]string{r.Minute, r.Hour, r.Day, r.Month, r.Weekday}
}

// RuleSet is an ordered, immutable list of rules in file order.
type RuleSet []Rule

// TimeFields is a wall-clock minute decomposed the way rules address it.
type TimeFields struct {
	Minute  int `json:"minute"`  // 0-59
	Hour    int `json:"hour"`    // 0-23
	Day     int `json:"day"`     // 1-31
	Month   int `json:"month"`   // 1-12
	Weekday int `json:"weekday"` // 0-6, Sunday = 0
}

// Values returns the five components in rule order.
func (tf TimeFields) Values() [5]int {
	return [5]int{tf.Minute, tf.Hour, tf.Day, tf.Month, tf.Weekday}
}

// NewTimeFields decomposes t in its own location.
func NewTimeFields(t time.Time) TimeFields {
	return TimeFields{
		Minute:  t.Minute(),
		Hour:    t.Hour(),
		Day:     t.Day(),
		Month:   int(t.Month()),
		Weekday: int(t.Weekday()),
	}
}

// DispatchRecord describes one command handed to a dispatcher.
type DispatchRecord struct {
	RunID     string        `json:"run_id"`
	Command   string        `json:"command"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Failed reports whether the dispatch returned an error.
func (r DispatchRecord) Failed() bool {
	return r.Error != ""
}
