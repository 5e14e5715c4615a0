package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agentfloor/internal/config"
	"agentfloor/internal/domain"
	"agentfloor/internal/events"
	"agentfloor/internal/infer"
	"agentfloor/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ValidationError marks input the caller must fix; it is never retried and
// never partially applied.
type ValidationError struct {
	Message string
}

func (v ValidationError) Error() string { return v.Message }

func validationf(format string, args ...any) error {
	return ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError marks an insert that collides with existing state.
type ConflictError struct {
	Message string
}

func (c ConflictError) Error() string { return c.Message }

// AgentSeed describes one agent to create.
type AgentSeed struct {
	AgentID string
	Name    string
	Role    string
}

// CompanyCreateOptions are parameters for registering a company.
type CompanyCreateOptions struct {
	Name        string
	Description string
	Agents      []AgentSeed
}

// CreateCompany registers a company and its initial agents in one
// transaction. Each agent starts idle in its role's home zone.
func (e Engine) CreateCompany(ctx context.Context, opts CompanyCreateOptions) (domain.Company, error) {
	if opts.Name == "" {
		return domain.Company{}, validationf("name is required")
	}
	if limit := e.agentLimit(); len(opts.Agents) > limit {
		return domain.Company{}, validationf("agent limit exceeded: %d > %d", len(opts.Agents), limit)
	}
	now := e.nowString()
	c := domain.Company{
		ID:          uuid.New().String(),
		Name:        opts.Name,
		Description: opts.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Company{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCompany(ctx, tx, c); err != nil {
		return domain.Company{}, fmt.Errorf("insert company: %w", err)
	}
	seen := map[string]bool{}
	for _, seed := range opts.Agents {
		if seen[seed.AgentID] {
			return domain.Company{}, ConflictError{Message: fmt.Sprintf("agent %s already exists in company", seed.AgentID)}
		}
		seen[seed.AgentID] = true
		if _, err := e.insertAgent(ctx, tx, c.ID, seed, now); err != nil {
			return domain.Company{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Company{}, err
	}
	return c, nil
}

// CreateAgent adds one agent to an existing company, lazily resolving its
// role styling.
func (e Engine) CreateAgent(ctx context.Context, companyID string, seed AgentSeed) (domain.Agent, domain.RoleConfig, error) {
	if _, err := e.Repo.GetCompany(ctx, companyID); err != nil {
		return domain.Agent{}, domain.RoleConfig{}, err
	}
	count, err := e.Repo.CountAgents(ctx, companyID)
	if err != nil {
		return domain.Agent{}, domain.RoleConfig{}, err
	}
	if count >= e.agentLimit() {
		return domain.Agent{}, domain.RoleConfig{}, validationf("agent limit exceeded: company already has %d agents", count)
	}
	if _, err := e.Repo.GetAgent(ctx, companyID, seed.AgentID); err == nil {
		return domain.Agent{}, domain.RoleConfig{}, ConflictError{Message: fmt.Sprintf("agent %s already exists in company", seed.AgentID)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Agent{}, domain.RoleConfig{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, domain.RoleConfig{}, err
	}
	defer tx.Rollback()

	a, err := e.insertAgent(ctx, tx, companyID, seed, e.nowString())
	if err != nil {
		return domain.Agent{}, domain.RoleConfig{}, err
	}
	rc, err := e.EnsureRoleConfigTx(ctx, tx, seed.Role)
	if err != nil {
		return domain.Agent{}, domain.RoleConfig{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, domain.RoleConfig{}, err
	}
	return a, rc, nil
}

func (e Engine) insertAgent(ctx context.Context, tx *sql.Tx, companyID string, seed AgentSeed, now string) (domain.Agent, error) {
	if seed.AgentID == "" {
		return domain.Agent{}, validationf("agent_id is required")
	}
	if seed.Role == "" {
		return domain.Agent{}, validationf("role is required")
	}
	a := domain.Agent{
		ID:           uuid.New().String(),
		CompanyID:    companyID,
		AgentID:      seed.AgentID,
		Name:         seed.Name,
		Role:         seed.Role,
		Status:       "idle",
		PositionZone: domain.HomeZone(seed.Role),
		CreatedAt:    now,
	}
	if a.Name == "" {
		a.Name = seed.AgentID
	}
	if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, fmt.Errorf("insert agent %s: %w", seed.AgentID, err)
	}
	if _, err := e.EnsureRoleConfigTx(ctx, tx, seed.Role); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// DeleteAgent removes an agent and its movements. Events are retained: the
// activity log is append-only and keeps history for departed agents.
func (e Engine) DeleteAgent(ctx context.Context, companyID, agentID string) error {
	if _, err := e.Repo.GetCompany(ctx, companyID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAgent(ctx, tx, companyID, agentID); err != nil {
		return err
	}
	if err := e.Repo.DeleteAgentMovements(ctx, tx, companyID, agentID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) agentLimit() int {
	if e.Config != nil && e.Config.Limits.AgentsPerCompany > 0 {
		return e.Config.Limits.AgentsPerCompany
	}
	return 50
}

// EventIngestOptions is one inbound business event from a Dev App.
type EventIngestOptions struct {
	CompanyID string
	AgentID   string
	EventType string
	Payload   map[string]any
	ToAgent   *string
}

// IngestEvent runs the full pipeline for one event: verify references,
// infer action tokens, project agent state, synthesize movements, and
// append the event row — all inside a single transaction.
func (e Engine) IngestEvent(ctx context.Context, opts EventIngestOptions) (domain.Event, error) {
	if _, err := e.Repo.GetCompany(ctx, opts.CompanyID); err != nil {
		return domain.Event{}, fmt.Errorf("company: %w", err)
	}
	actor, err := e.Repo.GetAgent(ctx, opts.CompanyID, opts.AgentID)
	if err != nil {
		return domain.Event{}, fmt.Errorf("agent %s: %w", opts.AgentID, err)
	}
	var target *domain.Agent
	if opts.ToAgent != nil && *opts.ToAgent != "" {
		t, err := e.Repo.GetAgent(ctx, opts.CompanyID, *opts.ToAgent)
		if err != nil {
			return domain.Event{}, fmt.Errorf("to_agent %s: %w", *opts.ToAgent, err)
		}
		target = &t
	}

	actions := infer.Infer(opts.EventType, opts.AgentID, opts.ToAgent, opts.Payload)

	payload := opts.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	evt := domain.Event{
		ID:              uuid.New().String(),
		CompanyID:       opts.CompanyID,
		FromAgent:       &opts.AgentID,
		ToAgent:         opts.ToAgent,
		EventType:       infer.Canonical(opts.EventType),
		Payload:         payload,
		InferredActions: infer.Strings(actions),
		Timestamp:       e.nowString(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	if err := e.projectAgentState(ctx, tx, opts.CompanyID, actions, payload); err != nil {
		return domain.Event{}, err
	}
	// Movement endpoints come from the agents' zones at event-processing
	// time, before any projector mutation in this batch.
	if err := e.synthesizeMovements(ctx, tx, actions, actor, target, payload, evt.Timestamp); err != nil {
		return domain.Event{}, err
	}
	if err := e.Events.Append(ctx, tx, evt); err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return evt, nil
}

// projectAgentState applies tokens in sequence order so later tokens win.
// Tokens naming an agent that cannot be resolved are dropped without error:
// token generation and agent resolution are deliberately decoupled.
func (e Engine) projectAgentState(ctx context.Context, tx *sql.Tx, companyID string, actions []infer.Action, payload map[string]any) error {
	for _, action := range actions {
		var status string
		switch action.Verb {
		case infer.VerbStatus:
			status = action.Arg
		case infer.VerbWalkTo:
			status = "walking"
		default:
			continue
		}
		agent, err := e.Repo.GetAgentTx(ctx, tx, companyID, action.Agent)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return err
		}
		agent.Status = status
		if action.Verb == infer.VerbStatus {
			applyCurrentTask(&agent, status, payload)
		}
		if err := e.Repo.UpdateAgentState(ctx, tx, agent); err != nil {
			return err
		}
	}
	return nil
}

// activeStatuses carry a current task description.
var activeStatuses = map[string]bool{
	"working":    true,
	"thinking":   true,
	"executing":  true,
	"coding":     true,
	"discussing": true,
	"reviewing":  true,
}

func applyCurrentTask(agent *domain.Agent, status string, payload map[string]any) {
	if status == "idle" {
		agent.CurrentTask = nil
		return
	}
	if !activeStatuses[status] {
		return
	}
	if task := payloadString(payload, "task"); task != "" {
		agent.CurrentTask = &task
		return
	}
	if thought := payloadString(payload, "thought"); thought != "" {
		agent.CurrentTask = &thought
	}
}

// synthesizeMovements creates pending animation records for the courier
// tokens. Both kinds need a resolved target: without one, no walk happened.
func (e Engine) synthesizeMovements(ctx context.Context, tx *sql.Tx, actions []infer.Action, actor domain.Agent, target *domain.Agent, payload map[string]any, now string) error {
	if target == nil {
		return nil
	}
	for _, action := range actions {
		if action.Agent != actor.AgentID {
			continue
		}
		var m domain.Movement
		switch action.Verb {
		case infer.VerbWalkTo:
			m = domain.Movement{
				AgentID:  actor.AgentID,
				FromZone: actor.PositionZone,
				ToZone:   target.PositionZone,
				Purpose:  domain.MovementPurposeHandoff,
			}
			if artifact := payloadString(payload, "artifact"); artifact != "" {
				m.Artifact = &artifact
			}
		case infer.VerbReturn:
			m = domain.Movement{
				AgentID:  actor.AgentID,
				FromZone: target.PositionZone,
				ToZone:   domain.HomeZone(actor.Role),
				Purpose:  domain.MovementPurposeReturn,
			}
		default:
			continue
		}
		m.ID = uuid.New().String()
		m.CompanyID = actor.CompanyID
		m.Progress = 0.0
		m.CreatedAt = now
		if err := e.Repo.InsertMovement(ctx, tx, m); err != nil {
			return err
		}
	}
	return nil
}

// UpdateMovementProgress overwrites progress; the client may rewind.
func (e Engine) UpdateMovementProgress(ctx context.Context, movementID string, progress float64) (domain.Movement, error) {
	if progress < 0.0 || progress > 1.0 {
		return domain.Movement{}, validationf("progress must be between 0.0 and 1.0")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Movement{}, err
	}
	defer tx.Rollback()
	m, err := e.Repo.GetMovementTx(ctx, tx, movementID)
	if err != nil {
		return domain.Movement{}, err
	}
	if err := e.Repo.UpdateMovementProgress(ctx, tx, movementID, progress); err != nil {
		return domain.Movement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Movement{}, err
	}
	m.Progress = progress
	return m, nil
}

// CompleteMovement finalizes an animation: progress pinned to 1.0 and the
// agent lands in the destination zone. A return movement also closes the
// courier loop by resetting the agent to idle. Idempotent. Rewinding
// progress afterwards does not revert the applied position.
func (e Engine) CompleteMovement(ctx context.Context, movementID string) (domain.Movement, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Movement{}, err
	}
	defer tx.Rollback()
	m, err := e.Repo.GetMovementTx(ctx, tx, movementID)
	if err != nil {
		return domain.Movement{}, err
	}
	if err := e.Repo.UpdateMovementProgress(ctx, tx, movementID, 1.0); err != nil {
		return domain.Movement{}, err
	}
	agent, err := e.Repo.GetAgentTx(ctx, tx, m.CompanyID, m.AgentID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.Movement{}, err
		}
		// Agent deleted mid-animation: the movement still completes.
	} else {
		agent.PositionZone = m.ToZone
		if m.Purpose == domain.MovementPurposeReturn {
			agent.Status = "idle"
		}
		if err := e.Repo.UpdateAgentState(ctx, tx, agent); err != nil {
			return domain.Movement{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Movement{}, err
	}
	m.Progress = 1.0
	return m, nil
}

// CleanupMovements deletes every completed movement for a company and
// reports how many went away. Purely client-triggered; nothing expires on
// its own.
func (e Engine) CleanupMovements(ctx context.Context, companyID string) (int, error) {
	if _, err := e.Repo.GetCompany(ctx, companyID); err != nil {
		return 0, err
	}
	return e.Repo.DeleteCompletedMovements(ctx, companyID)
}

// CompanyState is the single read model the dashboard polls.
type CompanyState struct {
	Company          domain.Company
	Agents           []domain.Agent
	PendingMovements []domain.Movement
	RoleConfigs      map[string]domain.RoleConfig
	LastUpdated      string
}

// State assembles the current scene: agents, pending movements, and the
// styling for every role currently represented.
func (e Engine) State(ctx context.Context, companyID string) (CompanyState, error) {
	c, err := e.Repo.GetCompany(ctx, companyID)
	if err != nil {
		return CompanyState{}, err
	}
	agents, err := e.Repo.ListAgents(ctx, companyID)
	if err != nil {
		return CompanyState{}, err
	}
	pending, err := e.Repo.ListPendingMovements(ctx, companyID)
	if err != nil {
		return CompanyState{}, err
	}
	roleConfigs := map[string]domain.RoleConfig{}
	for _, a := range agents {
		if _, ok := roleConfigs[a.Role]; ok {
			continue
		}
		rc, err := e.EnsureRoleConfig(ctx, a.Role)
		if err != nil {
			return CompanyState{}, err
		}
		roleConfigs[a.Role] = rc
	}
	return CompanyState{
		Company:          c,
		Agents:           agents,
		PendingMovements: pending,
		RoleConfigs:      roleConfigs,
		LastUpdated:      e.nowString(),
	}, nil
}

// LogPage is one page of the activity feed.
type LogPage struct {
	Events  []domain.Event
	Total   int
	HasMore bool
}

// Logs returns the filtered activity feed, newest first.
func (e Engine) Logs(ctx context.Context, f repo.EventFilters) (LogPage, error) {
	if _, err := e.Repo.GetCompany(ctx, f.CompanyID); err != nil {
		return LogPage{}, err
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	// Event types are stored canonicalized, so the filter must match that form.
	if f.EventType != "" {
		f.EventType = infer.Canonical(f.EventType)
	}
	probe := f
	probe.Limit = f.Limit + 1
	evts, err := e.Repo.ListEvents(ctx, probe)
	if err != nil {
		return LogPage{}, err
	}
	page := LogPage{}
	if len(evts) > f.Limit {
		page.HasMore = true
		evts = evts[:f.Limit]
	}
	page.Events = evts
	count := f
	count.Limit = 0
	count.Offset = 0
	page.Total, err = e.Repo.CountEvents(ctx, count)
	if err != nil {
		return LogPage{}, err
	}
	return page, nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
