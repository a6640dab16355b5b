package executor

import (
	"bytes"
	"encoding/json"

	"regprobe/internal/shared/types"
)

// classify evaluates the template's rules against the response payload.
// The success rule is evaluated first and wins even when the fail rule
// would also match. When neither matches the attempt is a detection
// failure, not a guess.
func classify(body []byte, tpl *types.ProbeTemplate) (types.DetectStatus, string) {
	doc, err := decodeResponse(body)
	if err != nil {
		return types.StatusDetectionFailed, "malformed response: " + err.Error()
	}

	if matchRule(doc, tpl.SuccessRule) {
		return types.StatusRegistered, ""
	}
	if matchRule(doc, tpl.FailRule) {
		return types.StatusUnregistered, ""
	}
	return types.StatusDetectionFailed, "could not determine result"
}

// decodeResponse parses the payload keeping numbers as their literal
// JSON text, so a rule value "0" matches the number 0 but not 0.0.
func decodeResponse(body []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// matchRule reports whether every key of the rule is present in the
// response with exactly the expected text value. Case-sensitive, no type
// coercion: a missing key, a non-scalar value or any mismatch fails the
// rule. An empty rule never matches.
func matchRule(doc map[string]interface{}, rule map[string]string) bool {
	if len(rule) == 0 {
		return false
	}
	for key, want := range rule {
		actual, ok := doc[key]
		if !ok {
			return false
		}
		text, ok := scalarText(actual)
		if !ok || text != want {
			return false
		}
	}
	return true
}

func scalarText(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		if x {
			return "true", true
		}
		return "false", true
	case nil:
		return "null", true
	default:
		// Arrays and objects have no text form; they never match a rule.
		return "", false
	}
}
