// Package web provides HTTP request and response types for the execution API.
package web

import (
	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/tracing"
)

// SubmitExecutionRequest represents the request body for submitting a job.
type SubmitExecutionRequest struct {
	ExecutionID string               `json:"execution_id,omitempty"`
	Config      *models.JobConfig    `json:"config"                 validate:"required"`
	Group       *models.GroupContext `json:"group,omitempty"`
	UserToken   string               `json:"user_token,omitempty"`
}

// TracesResponse lists the persisted traces of one execution.
type TracesResponse struct {
	ExecutionID string                   `json:"execution_id"`
	Traces      []*models.ExecutionTrace `json:"traces"`
	Count       int                      `json:"count"`
}

// LogsResponse lists the stored log lines of one execution.
type LogsResponse struct {
	ExecutionID string                    `json:"execution_id"`
	Logs        []models.ExecutionLogLine `json:"logs"`
	Count       int                       `json:"count"`
}

// RunningResponse lists the jobs this process is executing right now.
type RunningResponse struct {
	Running []string       `json:"running"`
	Count   int            `json:"count"`
	Traces  *tracing.Stats `json:"traces,omitempty"`
}
