// Package template renders task descriptions for the in-process engine.
package template

import (
	"crypto/rand"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/crewplane/crewplane/pkg/models"
)

// TaskData is what a task description can refer to.
type TaskData struct {
	Inputs   map[string]any
	Agent    models.AgentConfig
	Task     models.TaskConfig
	Previous string
}

// RenderTask expands {key} placeholders from the job inputs and then
// evaluates Go template actions such as {{ .agent.role }} or
// {{ .inputs.topic }}. Text without "{{" skips the template engine.
func RenderTask(text string, data TaskData) (string, error) {
	for key, value := range data.Inputs {
		text = strings.ReplaceAll(text, "{"+key+"}", fmt.Sprint(value))
	}

	if !strings.Contains(text, "{{") {
		return text, nil
	}

	return Render(text, map[string]any{
		"inputs":   data.Inputs,
		"previous": data.Previous,
		"agent": map[string]any{
			"id":   data.Agent.ID,
			"role": data.Agent.Role,
			"name": data.Agent.Name,
			"goal": data.Agent.Goal,
		},
		"task": map[string]any{
			"id":              data.Task.ID,
			"name":            data.Task.Name,
			"expected_output": data.Task.ExpectedOutput,
		},
	})
}

func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("task").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}
				num := make([]byte, 1)
				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.TrimSpace(buf.String()), nil
}
