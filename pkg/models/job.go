package models

import "sort"

// JobConfig is the crew definition snapshot submitted for one execution.
// Its contents are interpreted by the execution framework; the pipeline
// only reads agent identities and task names from it.
type JobConfig struct {
	RunName string         `json:"run_name,omitempty"`
	Model   string         `json:"model,omitempty"`
	Agents  []AgentConfig  `json:"agents"             validate:"required,min=1,dive"`
	Tasks   []TaskConfig   `json:"tasks"              validate:"required,min=1,dive"`
	Inputs  map[string]any `json:"inputs,omitempty"`
}

// AgentConfig describes one agent of a crew.
type AgentConfig struct {
	ID        string   `json:"id"                  validate:"required"`
	Role      string   `json:"role"                validate:"required"`
	Name      string   `json:"name,omitempty"`
	Goal      string   `json:"goal,omitempty"`
	Backstory string   `json:"backstory,omitempty"`
	Model     string   `json:"model,omitempty"`
	Tools     []string `json:"tools,omitempty"`
}

// TaskConfig describes one task of a crew.
type TaskConfig struct {
	ID             string   `json:"id"                        validate:"required"`
	Name           string   `json:"name,omitempty"`
	Description    string   `json:"description"               validate:"required"`
	ExpectedOutput string   `json:"expected_output,omitempty"`
	AgentID        string   `json:"agent_id"                  validate:"required"`
	Tools          []string `json:"tools,omitempty"`
}

// AgentIdentifiers returns the sorted, de-duplicated agent roles of the job.
// These are the identifiers the framework's global bus carries.
func (c JobConfig) AgentIdentifiers() []string {
	seen := make(map[string]struct{}, len(c.Agents))
	roles := make([]string, 0, len(c.Agents))

	for _, agent := range c.Agents {
		if agent.Role == "" {
			continue
		}

		if _, ok := seen[agent.Role]; ok {
			continue
		}

		seen[agent.Role] = struct{}{}
		roles = append(roles, agent.Role)
	}

	sort.Strings(roles)

	return roles
}

// AgentByID looks up an agent definition by id.
func (c JobConfig) AgentByID(id string) (AgentConfig, bool) {
	for _, agent := range c.Agents {
		if agent.ID == id {
			return agent, true
		}
	}

	return AgentConfig{}, false
}
