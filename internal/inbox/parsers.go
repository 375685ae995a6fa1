package inbox

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

type parserFunc func(p Payload, now time.Time) (ParsedMessage, bool)

var parsers = map[Format]parserFunc{
	FormatLangChainObject: parseLangChain,
	FormatLangChainString: parseLangChain,
	FormatLegacy:          parseLegacy,
	FormatSimpleJSON:      parseSimpleJSON,
}

// Parse runs the parser registered for the payload's format. ok is false for
// unknown formats and for payloads whose text is empty after cleaning.
func Parse(p Payload, now time.Time) (ParsedMessage, bool) {
	parse, found := parsers[p.Format]
	if !found {
		return ParsedMessage{}, false
	}
	return parse(p, now)
}

// ParseRaw classifies and parses a raw payload in one step.
func ParseRaw(raw string, now time.Time) (ParsedMessage, Format, bool) {
	p := Classify(raw)
	msg, ok := Parse(p, now)
	return msg, p.Format, ok
}

func parseLangChain(p Payload, now time.Time) (ParsedMessage, bool) {
	fields := unwrapSerialized(p.Fields)
	if fields == nil {
		return ParsedMessage{}, false
	}
	// A structured tool-call reply from the agent wins over plain content.
	if text, found := toolCallMessage(fields); found {
		if content, ok := CleanContent(text); ok {
			return ParsedMessage{Content: content, Timestamp: formatTime(now), Role: RoleAssistant}, true
		}
	}
	content, ok := CleanContent(contentText(fields["content"]))
	if !ok {
		return ParsedMessage{}, false
	}
	role := RoleHuman
	if strings.EqualFold(stringField(fields, "type"), "ai") {
		role = RoleAssistant
	}
	return ParsedMessage{Content: content, Timestamp: formatTime(now), Role: role}, true
}

func parseLegacy(p Payload, now time.Time) (ParsedMessage, bool) {
	text := p.Text
	if p.Fields != nil {
		text, _ = p.Fields["message"].(string)
	}
	content, ok := CleanContent(text)
	if !ok {
		return ParsedMessage{}, false
	}
	return ParsedMessage{Content: content, Timestamp: formatTime(now), Role: RoleHuman}, true
}

func parseSimpleJSON(p Payload, now time.Time) (ParsedMessage, bool) {
	content, ok := CleanContent(contentText(p.Fields["content"]))
	if !ok {
		return ParsedMessage{}, false
	}
	timestamp := timestampField(p.Fields["timestamp"])
	if timestamp == "" {
		timestamp = formatTime(now)
	}
	return ParsedMessage{
		Content:   content,
		Timestamp: timestamp,
		Role:      simpleRole(stringField(p.Fields, "type")),
	}, true
}

func simpleRole(kind string) Role {
	switch strings.ToLower(kind) {
	case "ia", "assistant":
		return RoleAssistant
	case "human":
		return RoleHuman
	default:
		return RoleUnknown
	}
}

// unwrapSerialized flattens LangChain's constructor serialisation
// ({"lc":1,"type":"constructor","id":[...,"AIMessage"],"kwargs":{...}}).
func unwrapSerialized(fields map[string]any) map[string]any {
	kwargs, ok := fields["kwargs"].(map[string]any)
	if !ok {
		return fields
	}
	flat := make(map[string]any, len(kwargs)+1)
	for k, v := range kwargs {
		flat[k] = v
	}
	if _, hasType := flat["type"]; !hasType {
		if ids, ok := fields["id"].([]any); ok && len(ids) > 0 {
			if last, ok := ids[len(ids)-1].(string); ok {
				switch last {
				case "AIMessage", "AIMessageChunk":
					flat["type"] = "ai"
				case "HumanMessage", "HumanMessageChunk":
					flat["type"] = "human"
				}
			}
		}
	}
	return flat
}

// toolCallMessage looks for a "message" argument in the tool calls of an AI
// message, in both the LangChain and the OpenAI function-call layouts.
func toolCallMessage(fields map[string]any) (string, bool) {
	if calls, ok := fields["tool_calls"].([]any); ok {
		for _, raw := range calls {
			call, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if msg, found := argumentsMessage(call["args"]); found {
				return msg, true
			}
			if msg, found := argumentsMessage(call["arguments"]); found {
				return msg, true
			}
			if fn, ok := call["function"].(map[string]any); ok {
				if msg, found := argumentsMessage(fn["arguments"]); found {
					return msg, true
				}
			}
		}
	}
	if kwargs, ok := fields["additional_kwargs"].(map[string]any); ok {
		if calls, ok := kwargs["tool_calls"].([]any); ok {
			for _, raw := range calls {
				call, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				fn, ok := call["function"].(map[string]any)
				if !ok {
					continue
				}
				if msg, found := argumentsMessage(fn["arguments"]); found {
					return msg, true
				}
			}
		}
	}
	return "", false
}

// argumentsMessage reads the "message" property of tool-call arguments, which
// arrive either decoded or as a JSON-encoded string.
func argumentsMessage(v any) (string, bool) {
	var args map[string]any
	switch val := v.(type) {
	case map[string]any:
		args = val
	case string:
		if err := json.Unmarshal([]byte(val), &args); err != nil {
			return "", false
		}
	default:
		return "", false
	}
	msg, ok := args["message"].(string)
	if !ok || strings.TrimSpace(msg) == "" {
		return "", false
	}
	return msg, true
}

// contentText flattens a content value: plain strings pass through, content
// part lists contribute their text parts.
func contentText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			switch part := item.(type) {
			case string:
				parts = append(parts, part)
			case map[string]any:
				if text, ok := part["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// timestampField keeps explicit timestamps. Numeric values are treated as
// epoch seconds, or milliseconds when too large to be seconds.
func timestampField(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val <= 0 || math.IsInf(val, 0) || math.IsNaN(val) {
			return ""
		}
		if val > 1e12 {
			return formatTime(time.UnixMilli(int64(val)))
		}
		return formatTime(time.Unix(int64(val), 0))
	default:
		return ""
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
