package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedResponse is returned when an upstream payload cannot be
// normalized even after the repair pass. Callers must not assume any
// fields are present.
var ErrMalformedResponse = errors.New("gateway: malformed upstream response")

// knownArrayFields are fields the automation service is known to emit as
// brace-delimited sequences with the surrounding array brackets missing.
var knownArrayFields = []string{"Slots", "AppointmentSlots"}

// Normalize decodes the heterogeneous payload shapes the workflow gateway
// emits into the canonical JSON object. Shapes are tried in priority order:
//
//  1. array whose first element carries a "data" string → parse that string
//  2. array whose first element is the object itself → use directly
//  3. object with a "data" string field → parse the string
//  4. object with a "data" object field → use directly
//  5. object directly exposing the expected keys → use directly
//
// A parse failure triggers one best-effort repair pass before giving up
// with ErrMalformedResponse. Required-field validation is the caller's
// responsibility; normalization only fixes shape, never substitutes data.
func Normalize(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedResponse)
	}

	obj, err := normalizeOnce(trimmed)
	if err == nil {
		return obj, nil
	}

	repaired := Repair(string(trimmed))
	obj, repairedErr := normalizeOnce([]byte(repaired))
	if repairedErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return obj, nil
}

func normalizeOnce(raw []byte) (json.RawMessage, error) {
	switch raw[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}
		if len(elems) == 0 {
			return nil, errors.New("empty array")
		}
		return unwrapObject(elems[0])
	case '{':
		return unwrapObject(raw)
	default:
		return nil, errors.New("payload is neither object nor array")
	}
}

// unwrapObject resolves the "data"-envelope variants on a single object.
func unwrapObject(raw json.RawMessage) (json.RawMessage, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}

	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 {
		// No envelope; the object itself is the payload.
		return raw, nil
	}

	switch data[0] {
	case '"':
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, err
		}
		inner = strings.TrimSpace(inner)
		if !json.Valid([]byte(inner)) {
			repaired := Repair(inner)
			if !json.Valid([]byte(repaired)) {
				return nil, errors.New("nested data string is not valid JSON")
			}
			inner = repaired
		}
		return json.RawMessage(inner), nil
	case '{':
		return data, nil
	default:
		return nil, errors.New("data field is neither string nor object")
	}
}

var (
	doubledCommaRe  = regexp.MustCompile(`,\s*,+`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// Repair applies the best-effort string fixes for serializations the
// automation service is known to mangle: doubled and trailing commas, and
// missing array brackets around known list fields. It is a pure string
// transform; whether the result parses is the caller's problem.
func Repair(s string) string {
	s = doubledCommaRe.ReplaceAllString(s, ",")
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	for _, field := range knownArrayFields {
		s = bracketField(s, field)
	}
	return s
}

// bracketField wraps a brace-delimited object sequence following
// `"field":` in array brackets when the brackets are missing, e.g.
// `"Slots": {..},{..}` becomes `"Slots": [{..},{..}]`.
func bracketField(s, field string) string {
	marker := `"` + field + `"`
	idx := strings.Index(s, marker)
	if idx < 0 {
		return s
	}
	rest := idx + len(marker)
	colon := strings.Index(s[rest:], ":")
	if colon < 0 {
		return s
	}
	valStart := rest + colon + 1
	for valStart < len(s) && (s[valStart] == ' ' || s[valStart] == '\t' || s[valStart] == '\n' || s[valStart] == '\r') {
		valStart++
	}
	if valStart >= len(s) || s[valStart] != '{' {
		// Already bracketed, or not an object sequence.
		return s
	}

	end := scanObjectSequence(s, valStart)
	if end < 0 {
		return s
	}
	return s[:valStart] + "[" + s[valStart:end] + "]" + s[end:]
}

// scanObjectSequence returns the index just past the last `}` of a
// `{..},{..},..` run starting at start, or -1 if braces never balance.
func scanObjectSequence(s string, start int) int {
	i := start
	for {
		depth := 0
		inString := false
		escaped := false
		for ; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					i++
					goto closed
				}
			}
		}
		return -1
	closed:
		// Another object in the sequence?
		j := i
		for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
			j++
		}
		if j < len(s) && s[j] == ',' {
			k := j + 1
			for k < len(s) && (s[k] == ' ' || s[k] == '\t' || s[k] == '\n' || s[k] == '\r') {
				k++
			}
			if k < len(s) && s[k] == '{' {
				i = k
				continue
			}
		}
		return i
	}
}
