package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// TestingT is an interface that matches the methods we need from testing.T
type TestingT interface {
	Errorf(format string, args ...interface{})
	Helper()
}

// MustJSON marshals v or panics
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// AssertJSON compares two JSON documents (objects or arrays) semantically and
// reports a readable delta on mismatch. Key order and whitespace are ignored.
func AssertJSON(t TestingT, actualJSON, expectedJSON string) bool {
	t.Helper()
	if diff := DiffJSON(actualJSON, expectedJSON); diff != "" {
		t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// DiffJSON returns an empty string when both documents are equal
func DiffJSON(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	var d gojsondiff.Diff
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return fmt.Sprintf("type mismatch: expected JSON object, got %T", actual)
		}
		d = gojsondiff.New().CompareObjects(exp, act)
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return fmt.Sprintf("type mismatch: expected JSON array, got %T", actual)
		}
		d = gojsondiff.New().CompareArrays(exp, act)
	default:
		if fmt.Sprint(expected) == fmt.Sprint(actual) {
			return ""
		}
		return fmt.Sprintf("expected %v, got %v", expected, actual)
	}
	if !d.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       false,
	})
	out, err := f.Format(d)
	if err != nil {
		return fmt.Sprintf("JSON differs (format error: %v)", err)
	}
	return out
}
