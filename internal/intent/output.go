package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedOutput means the provider reply could not be decoded into the
// classification shape.
var ErrMalformedOutput = errors.New("intent: malformed classifier output")

const categoryIncomplete = "INCOMPLETE"

// Output is the decoded classifier reply. Args values are always strings.
type Output struct {
	Category  string
	Operation string
	Args      map[string]string
	Response  string
}

type rawOutput struct {
	Category  string                     `json:"category"`
	Operation string                     `json:"operation"`
	Args      map[string]json.RawMessage `json:"args"`
	Response  string                     `json:"response"`
}

// ParseOutput is the only place raw provider text is interpreted. It accepts
// a JSON object optionally wrapped in a code fence or surrounded by prose.
func ParseOutput(raw string) (Output, error) {
	text := extractJSONObject(stripCodeFence(raw))
	if text == "" || !strings.HasPrefix(text, "{") {
		return Output{}, fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
	}

	var decoded rawOutput
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	out := Output{
		Category:  strings.ToUpper(strings.TrimSpace(decoded.Category)),
		Operation: strings.ToUpper(strings.TrimSpace(decoded.Operation)),
		Args:      make(map[string]string, len(decoded.Args)),
		Response:  strings.TrimSpace(decoded.Response),
	}
	for name, value := range decoded.Args {
		s, ok := scalarString(value)
		if !ok {
			return Output{}, fmt.Errorf("%w: argument %q is not a scalar", ErrMalformedOutput, name)
		}
		if s = strings.TrimSpace(s); s != "" {
			out.Args[strings.TrimSpace(name)] = s
		}
	}
	return out, nil
}

// scalarString renders strings, numbers and booleans as text. Null is the
// empty string; objects and arrays are rejected.
func scalarString(value json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", true
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[':
		return "", false
	case 't', 'f':
		b, err := strconv.ParseBool(string(trimmed))
		if err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return "", false
		}
		return n.String(), true
	}
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func extractJSONObject(text string) string {
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return text
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
