package analysis

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const maxTags = 10

// ParseResult extracts a Result from model output. Surrounding prose or code
// fences are tolerated as long as one JSON object with a summary is present.
func ParseResult(raw string) (Result, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Result{}, fmt.Errorf("%w: no JSON object", ErrMalformedResponse)
	}
	body := raw[start : end+1]
	if !gjson.Valid(body) {
		return Result{}, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}

	parsed := gjson.Parse(body)
	summary := strings.TrimSpace(parsed.Get("summary").String())
	if summary == "" {
		return Result{}, fmt.Errorf("%w: missing summary", ErrMalformedResponse)
	}

	tags := make([]string, 0, maxTags)
	seen := make(map[string]struct{})
	parsed.Get("tags").ForEach(func(_, value gjson.Result) bool {
		tag := strings.ToLower(strings.TrimSpace(value.String()))
		if tag == "" {
			return true
		}
		if _, dup := seen[tag]; !dup {
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
		return len(tags) < maxTags
	})

	category := strings.ToLower(strings.TrimSpace(parsed.Get("category").String()))
	if category == "" {
		category = "general"
	}
	return Result{Summary: summary, Tags: tags, Category: category}, nil
}
