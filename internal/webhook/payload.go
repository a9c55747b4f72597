package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
)

// EnvironmentSnapshot is one environment's value of a flag as exposed to
// payload templates, sorted by environment name ascending.
type EnvironmentSnapshot struct {
	Name          string  `json:"name"`
	Value         *string `json:"value"`
	StartDatetime *string `json:"start_datetime"`
	EndDatetime   *string `json:"end_datetime"`
}

// FlagSnapshot is the flag state exposed to payload templates.
type FlagSnapshot struct {
	Name         string                `json:"name"`
	Type         string                `json:"type"`
	Description  string                `json:"description"`
	Environments []EnvironmentSnapshot `json:"environments"`
}

// EventContext is the data a payload template renders against. Previous and
// OldEnvironments are set only for update-type events, built from the
// pre-mutation snapshot.
type EventContext struct {
	EventType       string
	Flag            FlagSnapshot
	Previous        *FlagSnapshot
	OldEnvironments []EnvironmentSnapshot
	Timestamp       string
}

// defaultTemplate is used when a webhook has no payload template configured.
// The json function marshals values as JSON literals, so interpolated
// strings arrive correctly quoted and escaped.
const defaultTemplate = `{
  "event_type": {{ json .EventType }},
  "timestamp": {{ json .Timestamp }},
  "flag": {{ json .Flag }},
  "previous": {{ json .Previous }}
}`

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	},
}

// RenderPayload renders a webhook's payload template against the event
// context, substituting the built-in default when the template is empty.
// Errors are returned, never panicked, so a malformed operator-supplied
// template degrades to a delivery failure for that webhook only.
func RenderPayload(source string, context EventContext) (string, error) {
	if source == "" {
		source = defaultTemplate
	}

	tmpl, err := template.New("payload").Funcs(templateFuncs).Parse(source)
	if err != nil {
		return "", fmt.Errorf("parse payload template: %w", err)
	}

	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, context); err != nil {
		return "", fmt.Errorf("render payload template: %w", err)
	}

	return rendered.String(), nil
}
