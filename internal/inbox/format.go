package inbox

import (
	"encoding/json"
	"strings"
)

// Format tags the payload shapes produced by the upstream integrations.
type Format string

const (
	FormatLangChainObject Format = "LANGCHAIN_OBJECT"
	FormatLangChainString Format = "LANGCHAIN_STRING"
	FormatLegacy          Format = "LEGACY_FORMAT"
	FormatSimpleJSON      Format = "SIMPLE_JSON"
	FormatUnknown         Format = "UNKNOWN"
)

// Payload is a classified raw message: the format tag plus whatever the
// classifier already decoded, so parsers never decode twice.
type Payload struct {
	Format Format
	Fields map[string]any
	Text   string
}

// objectClassifiers are tried in order against decoded JSON objects.
var objectClassifiers = []struct {
	format Format
	match  func(map[string]any) bool
}{
	{FormatLangChainObject, isLangChainObject},
	{FormatLegacy, isLegacyObject},
	{FormatSimpleJSON, isSimpleObject},
}

var langChainMarkers = []string{"tool_calls", "additional_kwargs", "response_metadata", "lc"}

// Detect returns the format tag of a raw payload.
func Detect(raw string) Format {
	return Classify(raw).Format
}

// Classify decodes and tags a raw payload. It never panics; anything it cannot
// make sense of comes back as FormatUnknown.
func Classify(raw string) Payload {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Payload{Format: FormatUnknown}
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		// Broken JSON is unusable; plain prose is inbound text written by the
		// gateway webhook.
		if looksStructured(trimmed) {
			return Payload{Format: FormatUnknown}
		}
		return Payload{Format: FormatLegacy, Text: trimmed}
	}
	switch decoded.(type) {
	case float64, bool:
		// "1", "2" and friends are menu answers typed by customers.
		return Payload{Format: FormatLegacy, Text: trimmed}
	}
	return ClassifyValue(decoded)
}

// ClassifyValue tags a payload that was already decoded by the caller.
func ClassifyValue(v any) Payload {
	switch val := v.(type) {
	case map[string]any:
		return classifyObject(val)
	case string:
		return classifyString(val)
	default:
		return Payload{Format: FormatUnknown}
	}
}

// classifyString handles a JSON string scalar: either a serialised message
// object or plain text.
func classifyString(s string) Payload {
	inner := strings.TrimSpace(s)
	if inner == "" {
		return Payload{Format: FormatUnknown}
	}
	// The outer decode already succeeded, so text that does not decode again
	// is a quoted message rather than a broken payload.
	var nested any
	if err := json.Unmarshal([]byte(inner), &nested); err != nil {
		return Payload{Format: FormatLegacy, Text: inner}
	}
	switch obj := nested.(type) {
	case map[string]any:
		p := classifyObject(obj)
		if p.Format == FormatLangChainObject {
			p.Format = FormatLangChainString
		}
		return p
	case []any:
		return Payload{Format: FormatUnknown}
	default:
		return Payload{Format: FormatLegacy, Text: inner}
	}
}

// looksStructured reports undecodable text that carries JSON brackets: a
// broken payload rather than something a person typed.
func looksStructured(s string) bool {
	return strings.ContainsAny(s, "{}[]")
}

func classifyObject(obj map[string]any) Payload {
	for _, c := range objectClassifiers {
		if c.match(obj) {
			return Payload{Format: c.format, Fields: obj}
		}
	}
	return Payload{Format: FormatUnknown}
}

func isLangChainObject(obj map[string]any) bool {
	for _, key := range langChainMarkers {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	switch strings.ToLower(stringField(obj, "type")) {
	case "ai", "tool", "system":
		_, hasContent := obj["content"]
		return hasContent
	}
	return false
}

func isLegacyObject(obj map[string]any) bool {
	if _, hasContent := obj["content"]; hasContent {
		return false
	}
	_, ok := obj["message"].(string)
	return ok
}

func isSimpleObject(obj map[string]any) bool {
	_, ok := obj["content"]
	return ok
}

func stringField(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}
