package notify

import (
	"bytes"
	"errors"
	"strings"
	"text/template"
	"time"

	alarms "linemonitor/internal/alarms/domain"
)

const (
	DefaultSubjectTemplate = `{{.Site}} - {{.Title}}`
	DefaultBodyTemplate    = `{{ if eq .Kind "clear" -}}
At {{.Time}} all voltage monitoring points are normal.
{{- else -}}
At {{.Time}} a power {{.Kind}} was detected on the {{.Lines}}.
{{- end }}`

	// TimeLayout renders notification times, e.g. "March 01, 2026 05:30:15 MST".
	TimeLayout = "January 02, 2006 15:04:05 MST"
)

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Site  string
	Kind  string
	Title string
	Time  string
	Lines string
}

// Template renders notification subjects and bodies.
type Template struct {
	subject  *template.Template
	body     *template.Template
	site     string
	location *time.Location
}

// NewTemplate parses the subject and body templates, falling back to the defaults.
// A nil location renders times in UTC.
func NewTemplate(site, subject, body string, location *time.Location) (*Template, error) {
	if subject == "" {
		subject = DefaultSubjectTemplate
	}
	if body == "" {
		body = DefaultBodyTemplate
	}
	if location == nil {
		location = time.UTC
	}
	subjectTpl, err := template.New("power-subject").Parse(subject)
	if err != nil {
		return nil, err
	}
	bodyTpl, err := template.New("power-body").Parse(body)
	if err != nil {
		return nil, err
	}
	return &Template{
		subject:  subjectTpl,
		body:     bodyTpl,
		site:     strings.ToUpper(site),
		location: location,
	}, nil
}

// Data builds the template fields of n.
func (t *Template) Data(n alarms.Notification) TemplateData {
	return TemplateData{
		Site:  t.site,
		Kind:  string(n.Kind),
		Title: n.Kind.Title(),
		Time:  n.At.In(t.location).Format(TimeLayout),
		Lines: n.LinesPhrase(),
	}
}

// Render returns the subject and body of n.
func (t *Template) Render(n alarms.Notification) (string, string, error) {
	if t == nil || t.subject == nil || t.body == nil {
		return "", "", errors.New("power template: nil")
	}
	data := t.Data(n)
	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return "", "", err
	}
	if err := t.body.Execute(&body, data); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(subject.String()), body.String(), nil
}
