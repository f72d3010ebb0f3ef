package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	sprig "github.com/Masterminds/sprig/v3"
	"github.com/steamok/usmapctl/internal/taskstore"
)

// Default message templates. They see a Message as dot and the sprig
// function map.
const (
	DefaultNewTaskTemplate = `🆕 New task added:
Task ID: {{ .TaskID }}
Game: {{ .DisplayName | default "Unknown Game" }}
Status: {{ .To }}
Time: {{ .Timestamp.Format "2006-01-02 15:04:05" }}`

	DefaultStatusChangeTemplate = `📝 Task status changed:
Task ID: {{ .TaskID }}
Game: {{ .DisplayName | default "Unknown Game" }}
Status: {{ .From }} -> {{ .To }}
{{- if .ArtifactPath }}
USMap path: {{ .ArtifactPath }}
{{- end }}
{{- if .ErrorDetail }}
Error detail: {{ .ErrorDetail }}
{{- end }}
Time: {{ .Timestamp.Format "2006-01-02 15:04:05" }}`
)

// Message is the template data for one store event.
type Message struct {
	Kind         string
	TaskID       string
	DisplayName  string
	Detail       string
	From         string
	To           string
	ArtifactPath string
	ErrorDetail  string
	Timestamp    time.Time
}

// MessageOf builds template data from a store event.
func MessageOf(event taskstore.Event) Message {
	return Message{
		Kind:         string(event.Kind),
		TaskID:       event.Task.ID,
		DisplayName:  event.Task.DisplayName,
		Detail:       event.Task.Detail,
		From:         string(event.From),
		To:           string(event.To),
		ArtifactPath: event.Task.ArtifactPath,
		ErrorDetail:  event.Task.ErrorDetail,
		Timestamp:    event.Task.LastUpdated,
	}
}

// Templates holds one template per event kind. Empty entries use the
// defaults.
type Templates struct {
	NewTask      string
	StatusChange string
}

// Renderer turns events into message text.
type Renderer struct {
	byKind map[taskstore.EventKind]*template.Template
}

// NewRenderer parses tpl with the sprig function map.
func NewRenderer(tpl Templates) (*Renderer, error) {
	sources := map[taskstore.EventKind]string{
		taskstore.EventNewTask:      tpl.NewTask,
		taskstore.EventStatusChange: tpl.StatusChange,
	}
	defaults := map[taskstore.EventKind]string{
		taskstore.EventNewTask:      DefaultNewTaskTemplate,
		taskstore.EventStatusChange: DefaultStatusChangeTemplate,
	}

	r := &Renderer{byKind: make(map[taskstore.EventKind]*template.Template, len(sources))}
	for kind, src := range sources {
		if src == "" {
			src = defaults[kind]
		}
		t, err := template.New(string(kind)).Funcs(sprig.FuncMap()).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", kind, err)
		}
		r.byKind[kind] = t
	}
	return r, nil
}

// Render produces the text for event.
func (r *Renderer) Render(event taskstore.Event) (string, error) {
	t, ok := r.byKind[event.Kind]
	if !ok {
		return "", fmt.Errorf("no template for event kind %q", event.Kind)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, MessageOf(event)); err != nil {
		return "", fmt.Errorf("render %s message: %w", event.Kind, err)
	}
	return buf.String(), nil
}
