package audit

import "time"

// Action is what happened to an entity.
type Action string

// Recorded actions.
const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionAssign  Action = "assign"
	ActionLogin   Action = "login"
	ActionRefresh Action = "refresh"
)

// Entity types.
const (
	EntityMachine  = "machine"
	EntityTool     = "tool"
	EntityUser     = "user"
	EntityRegistry = "registry"
)

// Sources.
const (
	SourceAPI = "api"
	SourceCLI = "cli"
)

// Entry is one audit trail row.
type Entry struct {
	ID         string         `json:"id"`
	Action     Action         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Action     Action
	EntityType string
	EntityID   string
	UserID     string
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Paging limits.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}
