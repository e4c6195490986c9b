package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wolfman30/patientpal/internal/operations"
)

var (
	indexedPlaceholder = regexp.MustCompile(`<(\d+)>`)
	namedPlaceholder   = regexp.MustCompile(`<[A-Za-z_][A-Za-z0-9_ ]*>`)
)

// CheckTemplate verifies that template holds exactly one placeholder <1>..<n>
// for each of the n result fields and no other placeholders.
func CheckTemplate(template string, fields int) error {
	seen := make(map[int]bool, fields)
	for _, m := range indexedPlaceholder.FindAllStringSubmatch(template, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > fields {
			return fmt.Errorf("intent: template placeholder %s is out of range 1..%d", m[0], fields)
		}
		if seen[idx] {
			return fmt.Errorf("intent: template placeholder %s appears more than once", m[0])
		}
		seen[idx] = true
	}
	if len(seen) != fields {
		return fmt.Errorf("intent: template has %d of %d placeholders", len(seen), fields)
	}
	if m := namedPlaceholder.FindString(template); m != "" {
		return fmt.Errorf("intent: template contains unfilled placeholder %s", m)
	}
	if strings.TrimSpace(template) == "" && fields == 0 {
		return fmt.Errorf("intent: template is empty")
	}
	return nil
}

// GenericTemplate builds a reply template that satisfies CheckTemplate for def.
func GenericTemplate(def operations.Definition) string {
	switch len(def.ResultFields) {
	case 0:
		return "Done! Your request has been completed."
	case 1:
		return "Here are your results: <1>"
	}
	var b strings.Builder
	b.WriteString("Here are your results:")
	for i, field := range def.ResultFields {
		fmt.Fprintf(&b, "\n- %s: <%d>", strings.ReplaceAll(field, "_", " "), i+1)
	}
	return b.String()
}

// Substitute replaces each <i> in template with values[i-1]. Substituted
// text is never re-scanned, and placeholders without a value are kept.
func Substitute(template string, values []string) string {
	return indexedPlaceholder.ReplaceAllStringFunc(template, func(m string) string {
		idx, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || idx < 1 || idx > len(values) {
			return m
		}
		return values[idx-1]
	})
}
