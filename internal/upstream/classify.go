package upstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

// DefaultResultField is the object key holding the result array.
const DefaultResultField = "data"

// ErrUnexpectedShape is returned when the body is not the expected payload:
// empty, or with a result field that is not an array.
var ErrUnexpectedShape = errors.New("upstream payload has an unexpected shape")

var noDataPhrases = []string{"no data", "no results", "nothing to update", "not found"}

// Classify turns an upstream JSON body into a crawl.Response. A reply counts
// as "no data" when the result array is empty, null or absent, count is 0, or
// the message says so. Anything else that does not carry a result array is a
// failure.
func Classify(body []byte, resultField string) (crawl.Response, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return crawl.Response{}, fmt.Errorf("%w: empty body", ErrUnexpectedShape)
	}
	if resultField == "" {
		resultField = DefaultResultField
	}

	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return crawl.Response{}, fmt.Errorf("decode upstream array: %w", err)
		}
		return crawl.Response{Records: len(items), Empty: len(items) == 0}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return crawl.Response{}, fmt.Errorf("decode upstream object: %w", err)
	}

	resp := crawl.Response{Message: stringField(obj, "message", "msg")}
	if msg := strings.ToLower(resp.Message); msg != "" {
		for _, phrase := range noDataPhrases {
			if strings.Contains(msg, phrase) {
				resp.Empty = true
				return resp, nil
			}
		}
	}

	if count, ok := intField(obj, "count"); ok && count == 0 {
		resp.Empty = true
		return resp, nil
	}

	raw, ok := obj[resultField]
	if !ok || string(raw) == "null" {
		resp.Empty = true
		return resp, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return crawl.Response{}, fmt.Errorf("%w: field %q is not an array", ErrUnexpectedShape, resultField)
	}
	resp.Records = len(items)
	resp.Empty = len(items) == 0
	return resp, nil
}

func stringField(obj map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return ""
}

func intField(obj map[string]json.RawMessage, key string) (int, bool) {
	raw, ok := obj[key]
	if !ok {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return int(n), true
}
