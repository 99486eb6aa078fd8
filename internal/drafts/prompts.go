package drafts

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// SystemPrompt returns the system prompt shared by every drafting call.
func SystemPrompt() string {
	out, _ := render("system.tmpl", nil)
	return out
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

type titlesPrompt struct {
	Topic    string
	Count    int
	Examples []string
}

type premisePrompt struct {
	Title string
}

type scriptPrompt struct {
	Title    string
	Premise  string
	Chapters int
}
