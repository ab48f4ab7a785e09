package cronfield

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidExpression is wrapped by every error returned from Validate.
var ErrInvalidExpression = errors.New("invalid field expression")

// Field identifies one of the five time columns of a rule.
type Field int

const (
	Minute Field = iota
	Hour
	Day
	Month
	Weekday
)

// Fields lists the columns in rule order.
var Fields = []Field{Minute, Hour, Day, Month, Weekday}

type bounds struct {
	name     string
	min, max int
}

var fieldBounds = map[Field]bounds{
	Minute:  {"minute", 0, 59},
	Hour:    {"hour", 0, 23},
	Day:     {"day", 1, 31},
	Month:   {"month", 1, 12},
	Weekday: {"weekday", 0, 6}, // Sunday = 0
}

func (f Field) String() string {
	if b, ok := fieldBounds[f]; ok {
		return b.name
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// Min returns the smallest value the field can take.
func (f Field) Min() int { return fieldBounds[f].min }

// Max returns the largest value the field can take.
func (f Field) Max() int { return fieldBounds[f].max }

// Validate checks that expr is well-formed for Match and that every
// integer in it lies inside the field's domain. A range whose start is
// greater than its end is well-formed; it just never matches.
func Validate(expr string, f Field) error {
	b, ok := fieldBounds[f]
	if !ok {
		return fmt.Errorf("%w: unknown field %d", ErrInvalidExpression, int(f))
	}
	if expr == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidExpression, b.name)
	}
	if err := validate(expr, f); err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidExpression, b.name, expr, err)
	}
	return nil
}

func validate(expr string, f Field) error {
	if expr == "*" {
		return nil
	}
	if strings.Contains(expr, ",") {
		for _, part := range strings.Split(expr, ",") {
			if part == "" {
				return errors.New("empty list element")
			}
			if err := validate(part, f); err != nil {
				return err
			}
		}
		return nil
	}
	if strings.Contains(expr, "-") {
		a, c, _ := strings.Cut(expr, "-")
		if _, err := value(a, f); err != nil {
			return err
		}
		_, err := value(c, f)
		return err
	}
	if strings.Contains(expr, "/") {
		base, s, _ := strings.Cut(expr, "/")
		step, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("step %q is not an integer", s)
		}
		if step < 1 {
			return fmt.Errorf("step %d must be at least 1", step)
		}
		if base == "*" {
			return nil
		}
		_, err = value(base, f)
		return err
	}
	_, err := value(expr, f)
	return err
}

func value(s string, f Field) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	if n < f.Min() || n > f.Max() {
		return 0, fmt.Errorf("%d out of range %d-%d", n, f.Min(), f.Max())
	}
	return n, nil
}
