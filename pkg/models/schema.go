package models

// JobConfigSchema is the JSON Schema a submitted job configuration must
// satisfy before it is accepted.
func JobConfigSchema() map[string]any {
	agent := map[string]any{
		"type":     "object",
		"required": []any{"id", "role"},
		"properties": map[string]any{
			"id":        map[string]any{"type": "string", "minLength": 1},
			"role":      map[string]any{"type": "string", "minLength": 1},
			"name":      map[string]any{"type": "string"},
			"goal":      map[string]any{"type": "string"},
			"backstory": map[string]any{"type": "string"},
			"model":     map[string]any{"type": "string"},
			"tools":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}

	task := map[string]any{
		"type":     "object",
		"required": []any{"id", "description", "agent_id"},
		"properties": map[string]any{
			"id":              map[string]any{"type": "string", "minLength": 1},
			"name":            map[string]any{"type": "string"},
			"description":     map[string]any{"type": "string", "minLength": 1},
			"expected_output": map[string]any{"type": "string"},
			"agent_id":        map[string]any{"type": "string", "minLength": 1},
			"tools":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}

	return map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"title":    "Crew job configuration",
		"type":     "object",
		"required": []any{"agents", "tasks"},
		"properties": map[string]any{
			"run_name": map[string]any{"type": "string"},
			"model":    map[string]any{"type": "string"},
			"agents":   map[string]any{"type": "array", "minItems": 1, "items": agent},
			"tasks":    map[string]any{"type": "array", "minItems": 1, "items": task},
			"inputs":   map[string]any{"type": "object"},
		},
	}
}
