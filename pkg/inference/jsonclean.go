package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var ErrMalformed = errors.New("model answer is not JSON")

var (
	thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
	fenced     = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")
)

// CleanJSON extracts the JSON document from a model answer. It drops
// reasoning blocks and code fences, then strips // comments and trailing
// commas outside of string literals.
func CleanJSON(answer string) ([]byte, error) {
	text := thinkBlock.ReplaceAllString(answer, "")
	if m := fenced.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(text)

	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "}]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: %.80q", ErrMalformed, answer)
	}

	cleaned := stripCommentsAndTrailingCommas(text[start : end+1])
	if !json.Valid(cleaned) {
		return nil, fmt.Errorf("%w: %.80q", ErrMalformed, answer)
	}
	return cleaned, nil
}

func stripCommentsAndTrailingCommas(s string) []byte {
	out := make([]byte, 0, len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			out = append(out, ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch {
		case ch == '"':
			inString = true
			out = append(out, ch)
		case ch == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				out = append(out, '\n')
			}
		case ch == ',' && closesNext(s[i+1:]):
			// trailing comma
		default:
			out = append(out, ch)
		}
	}
	return out
}

// closesNext reports whether the next significant character closes a container.
func closesNext(rest string) bool {
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '}', ']':
			return true
		case '/':
			if i+1 < len(rest) && rest[i+1] == '/' {
				for i < len(rest) && rest[i] != '\n' {
					i++
				}
				continue
			}
			return false
		default:
			return false
		}
	}
	return false
}

// AskJSON runs one bounded inference call and decodes the cleaned answer into out.
func AskJSON(ctx context.Context, inferer Inferer, timeout time.Duration, document, instructions string, out interface{}) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	answer, err := inferer.Infer(ctx, document, instructions)
	if err != nil {
		return err
	}
	cleaned, err := CleanJSON(answer)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(cleaned, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
