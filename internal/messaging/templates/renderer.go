// Package templates renders operator quick replies such as
// "Olá {{first .Contact}}, seus óculos estão prontos!".
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"first": firstName,
	"upper": strings.ToUpper,
}

// Renderer renders small text templates for outbound messaging.
type Renderer struct{}

// Render compiles the provided template text with strict missing-key semantics.
// The result is trimmed; a template that renders to nothing is an error.
func (Renderer) Render(name, tmpl string, data any) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", errors.New("templates: template text required")
	}
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("templates: parse: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute: %w", err)
	}
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return "", errors.New("templates: rendered text is empty")
	}
	return out, nil
}

// ReplyData is the data a quick reply is rendered with. Caller-supplied keys
// override the defaults.
func ReplyData(contact, agent, channel string, extra map[string]any) map[string]any {
	data := map[string]any{
		"Contact": contact,
		"Agent":   agent,
		"Channel": channel,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
