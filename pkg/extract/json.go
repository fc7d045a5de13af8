// Package extract recovers structured data from free-form model output.
package extract

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

const fence = "```"

// FirstJSONObject returns the first JSON object embedded in input, or an empty
// map when none can be recovered. It never panics.
func FirstJSONObject(input string) map[string]any {
	obj, ok := FindJSONObject(input)
	if !ok {
		return map[string]any{}
	}
	return obj
}

// FindJSONObject searches input for a JSON object and reports whether one was
// found. A legitimately embedded {} is returned as an empty map with ok=true.
//
// The search anchors at the first '{' and the last '}'. For each start
// position, ascending, it tries every end position, descending, and returns
// the first span that decodes to a JSON object, so the earliest and longest
// object wins over inner fragments and later objects. Only spans that begin
// with '{' and end with '}' are decoded.
//
// The cost is O(n^3) in the length of the bracketed span: O(n^2) candidates,
// each validated in O(n). Inputs are expected to be single completions of a
// few kilobytes; do not feed it whole documents.
//
// When there is no usable '{'...'}' span, or no span decodes to an object,
// the text between the first two ``` fences is wrapped in braces and decoded
// instead. This recovers bare "key": value lists.
func FindJSONObject(input string) (map[string]any, bool) {
	left := strings.IndexByte(input, '{')
	right := strings.LastIndexByte(input, '}')
	if left == -1 || right == -1 || left >= right {
		return fencedObject(input)
	}

	for start := left; start < right; start++ {
		if input[start] != '{' {
			continue
		}
		for end := right; end > start; end-- {
			if input[end] != '}' {
				continue
			}
			if obj, ok := decodeObject(input[start : end+1]); ok {
				return obj, true
			}
		}
	}

	return fencedObject(input)
}

func fencedObject(input string) (map[string]any, bool) {
	open := strings.Index(input, fence)
	if open == -1 {
		return nil, false
	}
	rest := input[open+len(fence):]
	closing := strings.Index(rest, fence)
	if closing == -1 {
		return nil, false
	}
	return decodeObject("{" + strings.TrimSpace(rest[:closing]) + "}")
}

// decodeObject decodes candidate if it is a syntactically valid JSON object.
func decodeObject(candidate string) (map[string]any, bool) {
	if !gjson.Valid(candidate) || !gjson.Parse(candidate).IsObject() {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
