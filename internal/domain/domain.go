package domain

type Company struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Agent struct {
	ID          string  `json:"id"`
	CompanyID   string  `json:"company_id"`
	AgentID     string  `json:"agent_id"`
	Name        string  `json:"name"`
	Role        string  `json:"role"`
	Status      string  `json:"status"`
	CurrentTask *string `json:"current_task,omitempty"`
	// PositionZone is the agent's logical location on the floor map. It
	// defaults to the role's home zone and only completed movements move it.
	PositionZone string  `json:"position_zone"`
	PositionX    float64 `json:"position_x"`
	PositionY    float64 `json:"position_y"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// HomeZone returns the default floor zone for a role. Zones are named after
// roles; courier movements transit between two agents' zones.
func HomeZone(role string) string {
	return role
}

// Event is an immutable record of one accepted business event plus the
// actions inferred from it.
type Event struct {
	ID              string         `json:"id"`
	CompanyID       string         `json:"company_id"`
	FromAgent       *string        `json:"from_agent,omitempty"`
	ToAgent         *string        `json:"to_agent,omitempty"`
	EventType       string         `json:"event_type"`
	Payload         map[string]any `json:"payload"`
	InferredActions []string       `json:"inferred_actions"`
	Timestamp       string         `json:"timestamp" format:"date-time"`
}

// Movement is one in-flight animation. Progress is driven by the dashboard
// client, never by server time.
type Movement struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"company_id"`
	AgentID   string  `json:"agent_id"`
	FromZone  string  `json:"from_zone"`
	ToZone    string  `json:"to_zone"`
	Purpose   string  `json:"purpose"`
	Artifact  *string `json:"artifact,omitempty"`
	Progress  float64 `json:"progress"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Completed reports whether a movement is eligible for cleanup. Completion
// and deletion are distinct lifecycle steps.
func (m Movement) Completed() bool {
	return m.Progress >= 1.0
}

const (
	MovementPurposeHandoff = "handoff"
	MovementPurposeReturn  = "return"
)

type RoleConfig struct {
	ID          string `json:"id"`
	RoleID      string `json:"role_id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
	ZoneColor   string `json:"zone_color"`
	IsDefault   bool   `json:"is_default"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
