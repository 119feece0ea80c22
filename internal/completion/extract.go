package completion

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractor pulls text out of one known response shape.
type extractor func(body map[string]any) string

// extractors run in order; the first non-empty result wins.
var extractors = []extractor{
	choiceMessageContent,
	choiceText,
	choiceDeltaContent,
	topLevelString("content"),
	topLevelMessage,
	topLevelString("output_text"),
}

// ExtractText returns the generated text from a completion response body.
// A body that is itself a JSON string is returned as is.
func ExtractText(raw []byte) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "", ErrNoContent
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return "", fmt.Errorf("completion: decoding response: %w", err)
	}

	switch v := decoded.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", ErrNoContent
		}
		return v, nil
	case map[string]any:
		if perr := choiceError(v); perr != nil {
			return "", perr
		}
		for _, fn := range extractors {
			if text := fn(v); strings.TrimSpace(text) != "" {
				return text, nil
			}
		}
	}
	return "", ErrNoContent
}

func firstChoice(body map[string]any) map[string]any {
	choices, ok := body["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil
	}
	choice, _ := choices[0].(map[string]any)
	return choice
}

func choiceMessageContent(body map[string]any) string {
	choice := firstChoice(body)
	if choice == nil {
		return ""
	}
	msg, _ := choice["message"].(map[string]any)
	return stringField(msg, "content")
}

func choiceText(body map[string]any) string {
	return stringField(firstChoice(body), "text")
}

func choiceDeltaContent(body map[string]any) string {
	choice := firstChoice(body)
	if choice == nil {
		return ""
	}
	delta, _ := choice["delta"].(map[string]any)
	return stringField(delta, "content")
}

func topLevelString(key string) extractor {
	return func(body map[string]any) string {
		return stringField(body, key)
	}
}

func topLevelMessage(body map[string]any) string {
	switch msg := body["message"].(type) {
	case string:
		return msg
	case map[string]any:
		return stringField(msg, "content")
	}
	return ""
}

// choiceError surfaces an error object embedded in the first choice.
func choiceError(body map[string]any) error {
	choice := firstChoice(body)
	if choice == nil {
		return nil
	}
	errObj, ok := choice["error"].(map[string]any)
	if !ok {
		return nil
	}
	perr := &ProviderError{
		Type:    stringField(errObj, "type"),
		Message: stringField(errObj, "message"),
	}
	if code, ok := errObj["code"].(float64); ok {
		perr.StatusCode = int(code)
	}
	if perr.Message == "" {
		perr.Message = "provider returned an error choice"
	}
	return perr
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
