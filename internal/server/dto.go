package server

import (
	"agentfloor/internal/domain"
	"agentfloor/internal/engine"
	"agentfloor/internal/repo"
)

// Request payloads

type AgentSeedRequest struct {
	AgentID string `json:"agent_id" minLength:"1" maxLength:"100"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role" minLength:"1" maxLength:"100"`
}

type CreateCompanyRequest struct {
	Name        string             `json:"name" minLength:"1" maxLength:"200"`
	Description *string            `json:"description,omitempty"`
	Agents      []AgentSeedRequest `json:"agents,omitempty"`
}

type CreateAgentRequest struct {
	AgentID string `json:"agent_id" minLength:"1" maxLength:"100"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role" minLength:"1" maxLength:"100"`
}

type SendEventRequest struct {
	CompanyID string         `json:"company_id" minLength:"1"`
	AgentID   string         `json:"agent_id" minLength:"1"`
	EventType string         `json:"event_type" minLength:"1" maxLength:"100" pattern:"^[A-Za-z0-9_]{1,100}$"`
	Payload   map[string]any `json:"payload,omitempty"`
	ToAgent   *string        `json:"to_agent,omitempty"`
}

type UpdateProgressRequest struct {
	Progress float64 `json:"progress" minimum:"0" maximum:"1"`
}

// Response payloads

type HealthResponse struct {
	Status   string `json:"status" example:"ok"`
	Version  string `json:"version" example:"0.1.0"`
	Database string `json:"database" enum:"connected,disconnected"`
}

type CompanyResponse struct {
	CompanyID   string `json:"company_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type CompanyListingResponse struct {
	CompanyResponse
	AgentCount   int     `json:"agent_count"`
	LastActivity *string `json:"last_activity,omitempty" format:"date-time"`
}

type AgentResponse struct {
	AgentID      string  `json:"agent_id"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	Status       string  `json:"status"`
	CurrentTask  *string `json:"current_task,omitempty"`
	PositionZone string  `json:"position_zone"`
	PositionX    float64 `json:"position_x"`
	PositionY    float64 `json:"position_y"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type RoleConfigResponse struct {
	RoleID      string `json:"role_id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
	ZoneColor   string `json:"zone_color"`
	IsDefault   bool   `json:"is_default"`
}

type MovementResponse struct {
	MovementID string  `json:"movement_id"`
	AgentID    string  `json:"agent_id"`
	FromZone   string  `json:"from_zone"`
	ToZone     string  `json:"to_zone"`
	Purpose    string  `json:"purpose" enum:"handoff,return"`
	Artifact   *string `json:"artifact,omitempty"`
	Progress   float64 `json:"progress"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type EventAcceptedResponse struct {
	EventID         string   `json:"event_id"`
	Timestamp       string   `json:"timestamp" format:"date-time"`
	Status          string   `json:"status" enum:"accepted"`
	InferredActions []string `json:"inferred_actions"`
}

type EventLogResponse struct {
	EventID         string         `json:"event_id"`
	FromAgent       *string        `json:"from_agent,omitempty"`
	ToAgent         *string        `json:"to_agent,omitempty"`
	EventType       string         `json:"event_type"`
	Payload         map[string]any `json:"payload"`
	InferredActions []string       `json:"inferred_actions"`
	Timestamp       string         `json:"timestamp" format:"date-time"`
}

type LogsResponse struct {
	Logs    []EventLogResponse `json:"logs"`
	Total   int                `json:"total"`
	HasMore bool               `json:"has_more"`
}

type CompanyStateResponse struct {
	Company          CompanyResponse               `json:"company"`
	Agents           []AgentResponse               `json:"agents"`
	PendingMovements []MovementResponse            `json:"pending_movements"`
	RoleConfigs      map[string]RoleConfigResponse `json:"role_configs"`
	LastUpdated      string                        `json:"last_updated" format:"date-time"`
}

type ProgressResponse struct {
	MovementID string  `json:"movement_id"`
	Progress   float64 `json:"progress"`
}

type CompleteResponse struct {
	MovementID string `json:"movement_id"`
	Status     string `json:"status" enum:"completed"`
}

type CleanupResponse struct {
	DeletedCount int `json:"deleted_count"`
}

// Mappers

func companyResponse(c domain.Company) CompanyResponse {
	return CompanyResponse{
		CompanyID:   c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func companyListingResponse(l repo.CompanyListing) CompanyListingResponse {
	return CompanyListingResponse{
		CompanyResponse: companyResponse(l.Company),
		AgentCount:      l.AgentCount,
		LastActivity:    l.LastActivity,
	}
}

func agentResponse(a domain.Agent) AgentResponse {
	return AgentResponse{
		AgentID:      a.AgentID,
		Name:         a.Name,
		Role:         a.Role,
		Status:       a.Status,
		CurrentTask:  a.CurrentTask,
		PositionZone: a.PositionZone,
		PositionX:    a.PositionX,
		PositionY:    a.PositionY,
		CreatedAt:    a.CreatedAt,
	}
}

func mapAgents(agents []domain.Agent) []AgentResponse {
	res := []AgentResponse{}
	for _, a := range agents {
		res = append(res, agentResponse(a))
	}
	return res
}

func roleConfigResponse(rc domain.RoleConfig) RoleConfigResponse {
	return RoleConfigResponse{
		RoleID:      rc.RoleID,
		DisplayName: rc.DisplayName,
		Color:       rc.Color,
		ZoneColor:   rc.ZoneColor,
		IsDefault:   rc.IsDefault,
	}
}

func movementResponse(m domain.Movement) MovementResponse {
	return MovementResponse{
		MovementID: m.ID,
		AgentID:    m.AgentID,
		FromZone:   m.FromZone,
		ToZone:     m.ToZone,
		Purpose:    m.Purpose,
		Artifact:   m.Artifact,
		Progress:   m.Progress,
		CreatedAt:  m.CreatedAt,
	}
}

func mapMovements(movements []domain.Movement) []MovementResponse {
	res := []MovementResponse{}
	for _, m := range movements {
		res = append(res, movementResponse(m))
	}
	return res
}

func eventLogResponse(e domain.Event) EventLogResponse {
	return EventLogResponse{
		EventID:         e.ID,
		FromAgent:       e.FromAgent,
		ToAgent:         e.ToAgent,
		EventType:       e.EventType,
		Payload:         e.Payload,
		InferredActions: e.InferredActions,
		Timestamp:       e.Timestamp,
	}
}

func stateResponse(s engine.CompanyState) CompanyStateResponse {
	roleConfigs := map[string]RoleConfigResponse{}
	for role, rc := range s.RoleConfigs {
		roleConfigs[role] = roleConfigResponse(rc)
	}
	return CompanyStateResponse{
		Company:          companyResponse(s.Company),
		Agents:           mapAgents(s.Agents),
		PendingMovements: mapMovements(s.PendingMovements),
		RoleConfigs:      roleConfigs,
		LastUpdated:      s.LastUpdated,
	}
}
