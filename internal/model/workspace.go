package model

import "time"

// Workspace is the tenant configuration context a job runs under. The
// job subsystem reads workspaces but never modifies them mid-run.
type Workspace struct {
	ID        string    `json:"id" yaml:"id"`
	Provider  string    `json:"provider" yaml:"provider"`
	OpenAIKey string    `json:"openai_key,omitempty" yaml:"openai_key"`
	GeminiKey string    `json:"gemini_key,omitempty" yaml:"gemini_key"`
	TavilyKey string    `json:"tavily_key,omitempty" yaml:"tavily_key"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}
