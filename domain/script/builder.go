package script

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// bootstrapData is the template input for the bootstrap.
type bootstrapData struct {
	Domain     string
	EntryPoint string
	Overlay    bool
}

// Builder assembles the evaluated source from the bootstrap template and a program.
type Builder struct {
	tmpl *template.Template
}

// NewBuilder parses the bootstrap template source.
func NewBuilder(bootstrap string) (*Builder, error) {
	tmpl, err := template.New("bootstrap").Option("missingkey=error").Parse(bootstrap)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bootstrap template: %w", err)
	}
	return &Builder{tmpl: tmpl}, nil
}

// Bootstrap renders the helper prelude for p on its own.
func (b *Builder) Bootstrap(p *Program) (string, error) {
	var sb strings.Builder
	err := b.tmpl.Execute(&sb, bootstrapData{
		Domain:     p.Domain,
		EntryPoint: p.EntryPoint,
		Overlay:    p.Overlay,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render bootstrap for %s: %w", p.Domain, err)
	}
	return sb.String(), nil
}

// Build returns the bootstrap followed by the payload.
func (b *Builder) Build(p *Program) (string, error) {
	prelude, err := b.Bootstrap(p)
	if err != nil {
		return "", err
	}
	return prelude + "\n" + p.Source, nil
}

// Invocation returns the host expression that runs the entry point through the
// bridge. It yields a promise settling to a status string.
func (b *Builder) Invocation(entry string) string {
	return fmt.Sprintf("window.__visitly.invoke(%s)", jsString(entry))
}

// Probe returns an expression evaluating to the type of the entry point.
func (b *Builder) Probe(entry string) string {
	return fmt.Sprintf("typeof window[%s]", jsString(entry))
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted)
}
