// Package validate checks and normalizes raw generation request bodies.
package validate

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ncecere/open_image_gateway/internal/models"
)

const (
	maxPromptLength = 1000
	minDimension    = 64
	maxDimension    = 2048

	DefaultWidth  = 1024
	DefaultHeight = 1024
	DefaultModel  = "flux"
)

// AllowedModels lists the upstream model identifiers a caller may request.
var AllowedModels = []string{"flux", "kontext", "turbo", "nanobanana"}

var (
	angleBracketPattern = regexp.MustCompile(`[<>]`)
	jsProtocolPattern   = regexp.MustCompile(`(?i)javascript:`)
	eventHandlerPattern = regexp.MustCompile(`(?i)on\w+=`)
)

// Request validates a decoded JSON body and returns the immutable request with
// its prompt sanitized. Every check runs independently so the caller receives
// the full list of violations, not just the first.
func Request(body map[string]any) (models.GenerationRequest, []string) {
	var problems []string

	prompt, ok := body["prompt"].(string)
	switch {
	case body["prompt"] == nil:
		problems = append(problems, "prompt is required and must be a string")
	case !ok:
		problems = append(problems, "prompt is required and must be a string")
	case utf8.RuneCountInString(prompt) > maxPromptLength:
		problems = append(problems, fmt.Sprintf("prompt must be %d characters or less", maxPromptLength))
	case strings.TrimSpace(prompt) == "":
		problems = append(problems, "prompt cannot be empty")
	}

	width, errs := dimension(body, "width", DefaultWidth)
	problems = append(problems, errs...)
	height, errs := dimension(body, "height", DefaultHeight)
	problems = append(problems, errs...)

	model := DefaultModel
	if raw, present := body["model"]; present {
		name, ok := raw.(string)
		if !ok || !allowedModel(name) {
			problems = append(problems, fmt.Sprintf("model must be one of: %s", strings.Join(AllowedModels, ", ")))
		} else {
			model = name
		}
	}

	var seed *int64
	if raw, present := body["seed"]; present {
		n, ok := integer(raw)
		if !ok || n < 0 {
			problems = append(problems, "seed must be a non-negative integer")
		} else {
			seed = &n
		}
	}

	var enhance *bool
	if raw, present := body["enhance"]; present {
		b, ok := raw.(bool)
		if !ok {
			problems = append(problems, "enhance must be a boolean")
		} else {
			enhance = &b
		}
	}

	if len(problems) > 0 {
		return models.GenerationRequest{}, problems
	}

	return models.GenerationRequest{
		Prompt:  SanitizePrompt(prompt),
		Width:   width,
		Height:  height,
		Model:   model,
		Seed:    seed,
		Enhance: enhance,
	}, nil
}

// SanitizePrompt strips markup and script-injection fragments from a prompt.
// Each pattern is applied until the string stops changing, so a pattern
// reassembled by an earlier removal (e.g. "javajavascript:script:") cannot
// survive. The transform is idempotent: sanitizing an already-sanitized
// prompt returns the same string.
func SanitizePrompt(prompt string) string {
	s := stripAll(prompt, angleBracketPattern)
	s = stripAll(s, jsProtocolPattern)
	s = stripAll(s, eventHandlerPattern)
	return strings.TrimSpace(s)
}

func stripAll(s string, pattern *regexp.Regexp) string {
	for {
		next := pattern.ReplaceAllString(s, "")
		if next == s {
			return next
		}
		s = next
	}
}

func dimension(body map[string]any, field string, fallback int) (int, []string) {
	raw, present := body[field]
	if !present {
		return fallback, nil
	}
	n, ok := integer(raw)
	if !ok || n < minDimension || n > maxDimension {
		return fallback, []string{fmt.Sprintf("%s must be an integer between %d and %d", field, minDimension, maxDimension)}
	}
	return int(n), nil
}

// integer reports whether a decoded JSON value is a whole number. encoding/json
// delivers all numbers as float64.
func integer(raw any) (int64, bool) {
	f, ok := raw.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func allowedModel(name string) bool {
	for _, m := range AllowedModels {
		if m == name {
			return true
		}
	}
	return false
}
