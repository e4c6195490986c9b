package operations

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the outcome of validating collected arguments.
type Status int

const (
	StatusComplete Status = iota
	StatusMissing
	StatusInvalid
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusMissing:
		return "missing"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Validation reports whether a set of arguments is executable.
type Validation struct {
	Status Status
	// Missing lists absent arguments in schema order (StatusMissing).
	Missing []string
	// Argument and Reason describe the first rejected value (StatusInvalid).
	Argument string
	Reason   string
}

// ValidationError is returned by Bind when arguments are not executable.
type ValidationError struct {
	Operation Name
	Validation
}

func (e *ValidationError) Error() string {
	switch e.Status {
	case StatusMissing:
		return fmt.Sprintf("operations: %s missing arguments: %s", e.Operation, strings.Join(e.Missing, ", "))
	case StatusInvalid:
		return fmt.Sprintf("operations: %s invalid %s: %s", e.Operation, e.Argument, e.Reason)
	default:
		return fmt.Sprintf("operations: unknown operation %q", e.Operation)
	}
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	dateLayouts = []string{
		DateLayout,
		"January 2, 2006",
		"January 2 2006",
		"Jan 2, 2006",
		"Jan 2 2006",
		"2 January 2006",
		"2 Jan 2006",
	}
	timeLayouts = []string{
		TimeLayout,
		"15:04:05",
		"3:04 PM",
		"3:04PM",
		"3 PM",
		"3PM",
	}

	identifierPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	placeholderPattern = regexp.MustCompile(`^<[^>]*>$`)
	numericDatePattern = regexp.MustCompile(`^\d{1,2}[./-]\d{1,2}[./-]\d{2,4}$`)

	vagueValues = map[string]struct{}{
		"any": {}, "anyone": {}, "anybody": {}, "any doctor": {}, "any specialty": {},
		"whoever": {}, "whatever": {}, "someone": {}, "somebody": {}, "anything": {},
		"unknown": {}, "n/a": {}, "na": {}, "none": {}, "tbd": {}, "null": {}, "nil": {},
		"?": {}, "-": {}, "not sure": {}, "don't know": {}, "dont know": {}, "doesn't matter": {},
	}
	relativeDateWords = []string{
		"today", "tomorrow", "tonight", "yesterday", "next", "this", "coming", "weekend",
		"week", "month", "soon", "later", "asap", "monday", "tuesday", "wednesday",
		"thursday", "friday", "saturday", "sunday", "days", "day after",
	}
	vagueTimeWords = []string{
		"noon", "midnight", "morning", "afternoon", "evening", "night", "asap", "now",
		"later", "soon", "early", "late", "anytime", "any time", "lunch",
	}
)

// Validate checks collected arguments against the operation's schema. Values
// are checked first so a wrong answer is corrected before more questions are
// asked; absent arguments are then reported together. Validate is pure.
func (r *Registry) Validate(name Name, args map[string]string) Validation {
	def, ok := r.Lookup(name)
	if !ok {
		return Validation{Status: StatusUnknown}
	}
	var missing []string
	for _, arg := range def.Arguments {
		raw, present := args[arg.Name]
		value := strings.TrimSpace(raw)
		if !present || value == "" {
			missing = append(missing, arg.Name)
			continue
		}
		if _, err := Normalize(arg.Kind, value); err != nil {
			return Validation{Status: StatusInvalid, Argument: arg.Name, Reason: err.Error()}
		}
	}
	if len(missing) > 0 {
		return Validation{Status: StatusMissing, Missing: missing}
	}
	return Validation{Status: StatusComplete}
}

// Normalize checks a value against its kind and returns its canonical form:
// dates as 2006-01-02, times as 15:04, other kinds trimmed.
func Normalize(kind Kind, raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("a value is required")
	}
	if isVague(value) {
		return "", fmt.Errorf("%q is not specific enough", value)
	}
	switch kind {
	case KindDate:
		d, err := ParseDate(value)
		if err != nil {
			return "", err
		}
		return d.Format(DateLayout), nil
	case KindTime:
		t, err := ParseClock(value)
		if err != nil {
			return "", err
		}
		return t.Format(TimeLayout), nil
	case KindIdentifier:
		if !identifierPattern.MatchString(value) {
			return "", fmt.Errorf("%q is not a valid identifier", value)
		}
		return value, nil
	default:
		return value, nil
	}
}

// ParseDate accepts only unambiguous calendar dates. Relative expressions and
// numeric day/month forms such as 7/5/2025 are rejected.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)
	for _, word := range relativeDateWords {
		if containsWord(lower, word) {
			return time.Time{}, fmt.Errorf("%q is a relative date; an exact calendar date such as 2025-07-05 is required", value)
		}
	}
	if numericDatePattern.MatchString(value) {
		return time.Time{}, fmt.Errorf("%q is ambiguous; use the form 2025-07-05", value)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an exact calendar date such as 2025-07-05", value)
}

// ParseClock accepts an exact time of day in 24-hour or am/pm form.
func ParseClock(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)
	for _, word := range vagueTimeWords {
		if containsWord(lower, word) {
			return time.Time{}, fmt.Errorf("%q is not an exact time; a time such as 14:00 is required", value)
		}
	}
	upper := strings.ToUpper(strings.ReplaceAll(value, ".", ""))
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, upper); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an exact time such as 14:00", value)
}

func isVague(value string) bool {
	lower := strings.ToLower(strings.TrimSpace(value))
	if _, ok := vagueValues[lower]; ok {
		return true
	}
	if strings.HasPrefix(lower, "any ") {
		return true
	}
	return placeholderPattern.MatchString(lower)
}

// containsWord reports whether word appears in s delimited by non-letters.
func containsWord(s, word string) bool {
	for start := 0; ; {
		idx := strings.Index(s[start:], word)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(word)
		before := idx == 0 || !isLetter(s[idx-1])
		after := end == len(s) || !isLetter(s[end])
		if before && after {
			return true
		}
		start = idx + 1
	}
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
