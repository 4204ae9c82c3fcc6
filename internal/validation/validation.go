// Package validation evaluates declarative per-field rule sets against
// submitted request values and reports every violation in one pass.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Violation describes one failed field constraint.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors collects every violation found in a request.
type Errors []Violation

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Values holds submitted fields keyed by their public name. A field the
// caller did not send is absent from the map.
type Values map[string]string

// Check inspects a normalized, non-empty value and returns a message suffix
// describing the problem, or "" when the value passes.
type Check func(value string) string

type Rule struct {
	Field    string
	Label    string
	Optional bool
	Checks   []Check
}

func (r Rule) label() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Field
}

// RuleSet is evaluated as a single batch.
type RuleSet []Rule

// Validate returns nil when every rule passes, otherwise an Errors value
// listing the first failed check of each offending field in rule order.
func (s RuleSet) Validate(values Values) error {
	var errs Errors
	for _, rule := range s {
		raw, present := values[rule.Field]
		value := Normalize(raw)
		if !present || value == "" {
			if !rule.Optional {
				errs = append(errs, Violation{Field: rule.Field, Message: rule.label() + " is required"})
			}
			continue
		}
		for _, check := range rule.Checks {
			if msg := check(value); msg != "" {
				errs = append(errs, Violation{Field: rule.Field, Message: rule.label() + " " + msg})
				break
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Normalize trims surrounding whitespace and converts the value to NFC so
// lengths are counted in composed code points.
func Normalize(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}

// Length bounds the number of code points in a value.
func Length(min, max int) Check {
	return func(value string) string {
		n := utf8.RuneCountInString(value)
		if n < min || n > max {
			return fmt.Sprintf("must be between %d and %d characters", min, max)
		}
		return ""
	}
}

// OneOf accepts only the listed values, compared exactly.
func OneOf(options ...string) Check {
	allowed := make(map[string]struct{}, len(options))
	for _, option := range options {
		allowed[option] = struct{}{}
	}
	joined := strings.Join(options, ", ")
	return func(value string) string {
		if _, ok := allowed[value]; ok {
			return ""
		}
		return "must be one of: " + joined
	}
}

// URL accepts absolute http and https URLs.
func URL() Check {
	return func(value string) string {
		parsed, err := url.ParseRequestURI(value)
		if err != nil || parsed.Host == "" {
			return "must be a valid URL"
		}
		switch strings.ToLower(parsed.Scheme) {
		case "http", "https":
			return ""
		default:
			return "must be a valid URL"
		}
	}
}

var youtubePattern = regexp.MustCompile(`^(https?://)?((www|m)\.)?(youtube\.com/(watch\?([^#]*&)?v=|shorts/|embed/)|youtu\.be/)[A-Za-z0-9_-]{11}([?&#/].*)?$`)

// YouTubeURL accepts watch, shorts, embed and youtu.be short links.
func YouTubeURL() Check {
	return func(value string) string {
		if youtubePattern.MatchString(value) {
			return ""
		}
		return "must be a valid YouTube URL"
	}
}
