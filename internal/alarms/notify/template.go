package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Alarm {{.EventLabel}}]
Entity: {{.EntityType}} {{.Entity}}
Alarm: {{.AlarmType}}
Rule: {{.Rule}}
Severity: {{.Severity}}
Start Time: {{.StartTime}}
Current Status: {{.Status}}
Suggestion: {{.Suggestion}}
{{ if .Details }}
Details: {{.Details}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	TenantID   string
	Entity     string
	EntityType string
	AlarmID    string
	AlarmType  string
	Rule       string
	RuleID     string
	Severity   string
	StartTime  string
	Status     string
	StatusCode string
	Details    string
	Suggestion string
	Event      string
	EventLabel string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alarm-notification").Option("missingkey=zero").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alarm template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
