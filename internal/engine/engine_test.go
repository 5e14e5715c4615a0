package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentfloor/internal/config"
	"agentfloor/internal/db"
	"agentfloor/internal/domain"
	"agentfloor/internal/engine"
	"agentfloor/internal/migrate"
	"agentfloor/internal/repo"
)

type testEnv struct {
	Engine    engine.Engine
	Ctx       context.Context
	CompanyID string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(dir)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.SeedRoles(ctx); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	c, err := eng.CreateCompany(ctx, engine.CompanyCreateOptions{
		Name: "Acme",
		Agents: []engine.AgentSeed{
			{AgentID: "BA-001", Name: "Betty", Role: "ba"},
			{AgentID: "DEV-001", Name: "Dana", Role: "developer"},
		},
	})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, CompanyID: c.ID}
}

func (env testEnv) agent(t *testing.T, agentID string) domain.Agent {
	t.Helper()
	a, err := env.Engine.Repo.GetAgent(env.Ctx, env.CompanyID, agentID)
	if err != nil {
		t.Fatalf("get agent %s: %v", agentID, err)
	}
	return a
}

func (env testEnv) movements(t *testing.T) []domain.Movement {
	t.Helper()
	ms, err := env.Engine.Repo.ListMovements(env.Ctx, env.CompanyID)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	return ms
}

func strptr(s string) *string { return &s }

func TestCourierEventProducesWalkAndMovements(t *testing.T) {
	env := newTestEnv(t)
	evt, err := env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID,
		AgentID:   "BA-001",
		EventType: "WORK_REQUEST",
		ToAgent:   strptr("DEV-001"),
		Payload:   map[string]any{"artifact": "spec.doc"},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if evt.EventType != "WORK_REQUEST" {
		t.Fatalf("unexpected canonical type %s", evt.EventType)
	}
	if len(evt.InferredActions) != 4 {
		t.Fatalf("expected 4 inferred actions, got %v", evt.InferredActions)
	}
	if evt.InferredActions[0] != "BA-001:walk_to:DEV-001" {
		t.Fatalf("unexpected first action %s", evt.InferredActions[0])
	}

	if got := env.agent(t, "BA-001").Status; got != "walking" {
		t.Fatalf("actor status = %s, want walking", got)
	}
	if got := env.agent(t, "DEV-001").Status; got != "working" {
		t.Fatalf("target status = %s, want working", got)
	}

	ms := env.movements(t)
	if len(ms) != 2 {
		t.Fatalf("expected handoff + return movements, got %d", len(ms))
	}
	handoff, ret := ms[0], ms[1]
	if handoff.Purpose != domain.MovementPurposeHandoff {
		handoff, ret = ms[1], ms[0]
	}
	if handoff.AgentID != "BA-001" || handoff.FromZone != "ba" || handoff.ToZone != "developer" {
		t.Fatalf("unexpected handoff movement %+v", handoff)
	}
	if handoff.Artifact == nil || *handoff.Artifact != "spec.doc" {
		t.Fatalf("handoff should carry the artifact, got %+v", handoff.Artifact)
	}
	if handoff.Progress != 0.0 {
		t.Fatalf("new movement progress = %f", handoff.Progress)
	}
	if ret.Purpose != domain.MovementPurposeReturn || ret.FromZone != "developer" || ret.ToZone != "ba" {
		t.Fatalf("unexpected return movement %+v", ret)
	}
}

func TestCourierEventWithoutTargetMakesNoMovement(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID,
		AgentID:   "BA-001",
		EventType: "WORK_REQUEST",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := env.agent(t, "BA-001").Status; got != "working" {
		t.Fatalf("status = %s, want working", got)
	}
	if ms := env.movements(t); len(ms) != 0 {
		t.Fatalf("expected no movements, got %d", len(ms))
	}
}

func TestUnknownEventTypeFallsBackToWorking(t *testing.T) {
	env := newTestEnv(t)
	evt, err := env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID,
		AgentID:   "DEV-001",
		EventType: "UNKNOWN_XYZ",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := env.agent(t, "DEV-001").Status; got != "working" {
		t.Fatalf("status = %s, want working", got)
	}
	if len(evt.InferredActions) != 1 {
		t.Fatalf("fallback must stay total: %v", evt.InferredActions)
	}
}

func TestCurrentTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID,
		AgentID:   "DEV-001",
		EventType: "THINKING",
		Payload:   map[string]any{"thought": "how to shard the db"},
	})
	if err != nil {
		t.Fatalf("ingest thinking: %v", err)
	}
	a := env.agent(t, "DEV-001")
	if a.Status != "thinking" || a.CurrentTask == nil || *a.CurrentTask != "how to shard the db" {
		t.Fatalf("unexpected agent after thinking: %+v", a)
	}

	// task takes precedence over thought
	_, err = env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID,
		AgentID:   "DEV-001",
		EventType: "WORKING",
		Payload:   map[string]any{"task": "implement sharding", "thought": "ignored"},
	})
	if err != nil {
		t.Fatalf("ingest working: %v", err)
	}
	a = env.agent(t, "DEV-001")
	if a.CurrentTask == nil || *a.CurrentTask != "implement sharding" {
		t.Fatalf("task should win over thought: %+v", a.CurrentTask)
	}

	// active status without either field leaves the task unchanged
	_, err = env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID,
		AgentID:   "DEV-001",
		EventType: "EXECUTING",
	})
	if err != nil {
		t.Fatalf("ingest executing: %v", err)
	}
	a = env.agent(t, "DEV-001")
	if a.CurrentTask == nil || *a.CurrentTask != "implement sharding" {
		t.Fatalf("task should persist: %+v", a.CurrentTask)
	}

	// idle clears unconditionally
	_, err = env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID,
		AgentID:   "DEV-001",
		EventType: "IDLE",
		Payload:   map[string]any{"task": "should not stick"},
	})
	if err != nil {
		t.Fatalf("ingest idle: %v", err)
	}
	a = env.agent(t, "DEV-001")
	if a.Status != "idle" || a.CurrentTask != nil {
		t.Fatalf("idle must clear current_task: %+v", a)
	}
}

func TestTaskCompleteEmitsMarkerAndIdles(t *testing.T) {
	env := newTestEnv(t)
	evt, err := env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID,
		AgentID:   "DEV-001",
		EventType: "TASK_COMPLETE",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(evt.InferredActions) != 2 || evt.InferredActions[1] != "DEV-001:task_complete" {
		t.Fatalf("unexpected actions %v", evt.InferredActions)
	}
	if got := env.agent(t, "DEV-001").Status; got != "idle" {
		t.Fatalf("status = %s, want idle", got)
	}
}

func TestMessageReceiveChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	before := env.agent(t, "DEV-001")
	evt, err := env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID,
		AgentID:   "DEV-001",
		EventType: "MESSAGE_RECEIVE",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if evt.InferredActions[0] != "DEV-001:acknowledge" {
		t.Fatalf("unexpected actions %v", evt.InferredActions)
	}
	after := env.agent(t, "DEV-001")
	if after.Status != before.Status || after.PositionZone != before.PositionZone {
		t.Fatalf("acknowledge must not mutate state: %+v vs %+v", before, after)
	}
}

func TestIngestRejectsUnknownReferences(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID,
		AgentID:   "GHOST-001",
		EventType: "WORKING",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown agent, got %v", err)
	}
	_, err = env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID,
		AgentID:   "BA-001",
		EventType: "WORK_REQUEST",
		ToAgent:   strptr("GHOST-001"),
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown to_agent, got %v", err)
	}
}

func TestMovementProgressBounds(t *testing.T) {
	env := newTestEnv(t)
	m := ingestCourier(t, env)

	for _, bad := range []float64{-0.1, 1.1, 2.0} {
		var verr engine.ValidationError
		if _, err := env.Engine.UpdateMovementProgress(env.Ctx, m.ID, bad); !errors.As(err, &verr) {
			t.Fatalf("progress %f should be rejected, got %v", bad, err)
		}
	}
	for _, good := range []float64{0.0, 0.5, 1.0} {
		updated, err := env.Engine.UpdateMovementProgress(env.Ctx, m.ID, good)
		if err != nil {
			t.Fatalf("progress %f should be accepted: %v", good, err)
		}
		if updated.Progress != good {
			t.Fatalf("progress = %f, want %f", updated.Progress, good)
		}
	}
	// rewind is allowed
	if _, err := env.Engine.UpdateMovementProgress(env.Ctx, m.ID, 0.2); err != nil {
		t.Fatalf("rewind should be allowed: %v", err)
	}
	if _, err := env.Engine.UpdateMovementProgress(env.Ctx, "missing", 0.5); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompleteMovementAppliesPositionAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	m := ingestCourier(t, env)
	if m.Purpose != domain.MovementPurposeHandoff {
		t.Fatalf("expected handoff first, got %s", m.Purpose)
	}

	done, err := env.Engine.CompleteMovement(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Progress != 1.0 {
		t.Fatalf("progress = %f", done.Progress)
	}
	a := env.agent(t, "BA-001")
	if a.PositionZone != m.ToZone {
		t.Fatalf("agent zone = %s, want %s", a.PositionZone, m.ToZone)
	}

	// second complete re-applies the same terminal state without error
	again, err := env.Engine.CompleteMovement(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if again.Progress != 1.0 {
		t.Fatalf("second complete progress = %f", again.Progress)
	}
	b := env.agent(t, "BA-001")
	if b.PositionZone != a.PositionZone || b.Status != a.Status {
		t.Fatalf("complete is not idempotent: %+v vs %+v", a, b)
	}
}

func TestCompleteReturnMovementClosesCourierLoop(t *testing.T) {
	env := newTestEnv(t)
	ingestCourier(t, env)
	var ret domain.Movement
	for _, m := range env.movements(t) {
		if m.Purpose == domain.MovementPurposeReturn {
			ret = m
		}
	}
	if ret.ID == "" {
		t.Fatalf("no return movement synthesized")
	}
	if _, err := env.Engine.CompleteMovement(env.Ctx, ret.ID); err != nil {
		t.Fatalf("complete return: %v", err)
	}
	a := env.agent(t, "BA-001")
	if a.PositionZone != "ba" || a.Status != "idle" {
		t.Fatalf("return completion should land home and idle: %+v", a)
	}
}

func TestRewindAfterCompleteKeepsAppliedPosition(t *testing.T) {
	env := newTestEnv(t)
	m := ingestCourier(t, env)
	if _, err := env.Engine.CompleteMovement(env.Ctx, m.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := env.Engine.UpdateMovementProgress(env.Ctx, m.ID, 0.4); err != nil {
		t.Fatalf("rewind after complete: %v", err)
	}
	a := env.agent(t, "BA-001")
	if a.PositionZone != m.ToZone {
		t.Fatalf("rewind must not revert the applied position, zone = %s", a.PositionZone)
	}
}

func TestCompleteMovementForDeletedAgentIsNoError(t *testing.T) {
	env := newTestEnv(t)
	m := ingestCourier(t, env)
	// delete via direct SQL: DeleteAgent would also remove the movement
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `DELETE FROM agents WHERE company_id=? AND agent_id=?`, env.CompanyID, "BA-001"); err != nil {
		t.Fatalf("delete agent row: %v", err)
	}
	done, err := env.Engine.CompleteMovement(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("complete with missing agent should be a silent no-op: %v", err)
	}
	if done.Progress != 1.0 {
		t.Fatalf("progress = %f", done.Progress)
	}
}

func TestCleanupRemovesOnlyCompletedMovements(t *testing.T) {
	env := newTestEnv(t)
	ingestCourier(t, env)
	ms := env.movements(t)
	if len(ms) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(ms))
	}
	if _, err := env.Engine.CompleteMovement(env.Ctx, ms[0].ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	deleted, err := env.Engine.CleanupMovements(env.Ctx, env.CompanyID)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted_count = %d, want 1", deleted)
	}
	remaining := env.movements(t)
	if len(remaining) != 1 || remaining[0].ID == ms[0].ID {
		t.Fatalf("pending movement should survive cleanup: %+v", remaining)
	}
	// nothing left to collect
	deleted, err = env.Engine.CleanupMovements(env.Ctx, env.CompanyID)
	if err != nil || deleted != 0 {
		t.Fatalf("second cleanup = %d, %v", deleted, err)
	}
}

func TestDeleteAgentCascadesMovementsKeepsEvents(t *testing.T) {
	env := newTestEnv(t)
	ingestCourier(t, env)
	if err := env.Engine.DeleteAgent(env.Ctx, env.CompanyID, "BA-001"); err != nil {
		t.Fatalf("delete agent: %v", err)
	}
	if ms := env.movements(t); len(ms) != 0 {
		t.Fatalf("movements should cascade on agent delete, got %d", len(ms))
	}
	page, err := env.Engine.Logs(env.Ctx, repo.EventFilters{CompanyID: env.CompanyID, AgentID: "BA-001"})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("events must survive agent delete, total = %d", page.Total)
	}
}

func TestAgentLimitAndDuplicates(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.CreateAgent(env.Ctx, env.CompanyID, engine.AgentSeed{AgentID: "BA-001", Name: "Dup", Role: "ba"})
	var cerr engine.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected conflict for duplicate agent, got %v", err)
	}

	limited := env.Engine
	cfg := *env.Engine.Config
	cfg.Limits.AgentsPerCompany = 2
	limited.Config = &cfg
	_, _, err = limited.CreateAgent(env.Ctx, env.CompanyID, engine.AgentSeed{AgentID: "QA-001", Role: "qa"})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for agent limit, got %v", err)
	}
}

func TestStateSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ingestCourier(t, env)
	state, err := env.Engine.State(env.Ctx, env.CompanyID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if len(state.Agents) != 2 {
		t.Fatalf("agents = %d", len(state.Agents))
	}
	if len(state.PendingMovements) != 2 {
		t.Fatalf("pending movements = %d", len(state.PendingMovements))
	}
	if _, ok := state.RoleConfigs["ba"]; !ok {
		t.Fatalf("role configs missing ba: %v", state.RoleConfigs)
	}
	if _, ok := state.RoleConfigs["developer"]; !ok {
		t.Fatalf("role configs missing developer: %v", state.RoleConfigs)
	}
	if state.LastUpdated == "" {
		t.Fatalf("last_updated missing")
	}

	// completed movements drop out of the snapshot
	ms := env.movements(t)
	for _, m := range ms {
		if _, err := env.Engine.CompleteMovement(env.Ctx, m.ID); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	state, err = env.Engine.State(env.Ctx, env.CompanyID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if len(state.PendingMovements) != 0 {
		t.Fatalf("completed movements must not be pending: %+v", state.PendingMovements)
	}
}

func TestLogsFilteringAndPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
			CompanyID: env.CompanyID, AgentID: "DEV-001", EventType: "WORKING",
		}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	if _, err := env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID, AgentID: "BA-001", EventType: "WORK_REQUEST", ToAgent: strptr("DEV-001"),
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	page, err := env.Engine.Logs(env.Ctx, repo.EventFilters{CompanyID: env.CompanyID, Limit: 2})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(page.Events) != 2 || !page.HasMore || page.Total != 4 {
		t.Fatalf("unexpected page: %d events, has_more=%v, total=%d", len(page.Events), page.HasMore, page.Total)
	}

	// agent filter matches either side
	page, err = env.Engine.Logs(env.Ctx, repo.EventFilters{CompanyID: env.CompanyID, AgentID: "DEV-001"})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if page.Total != 4 {
		t.Fatalf("DEV-001 appears in all 4 events, total = %d", page.Total)
	}

	page, err = env.Engine.Logs(env.Ctx, repo.EventFilters{CompanyID: env.CompanyID, EventType: "WORK_REQUEST"})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if page.Total != 1 || page.HasMore {
		t.Fatalf("type filter total = %d", page.Total)
	}

	// stored types are upper-cased, so the filter must match
	// however the caller spells it
	page, err = env.Engine.Logs(env.Ctx, repo.EventFilters{CompanyID: env.CompanyID, EventType: "work_request"})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("lower-case type filter total = %d, want 1", page.Total)
	}
}

// ingestCourier sends one WORK_REQUEST and returns the handoff movement.
func ingestCourier(t *testing.T, env testEnv) domain.Movement {
	t.Helper()
	_, err := env.Engine.IngestEvent(env.Ctx, engine.EventIngestOptions{
		CompanyID: env.CompanyID,
		AgentID:   "BA-001",
		EventType: "WORK_REQUEST",
		ToAgent:   strptr("DEV-001"),
		Payload:   map[string]any{"artifact": "spec.doc"},
	})
	if err != nil {
		t.Fatalf("ingest courier event: %v", err)
	}
	for _, m := range env.movements(t) {
		if m.Purpose == domain.MovementPurposeHandoff {
			return m
		}
	}
	t.Fatalf("no handoff movement found")
	return domain.Movement{}
}
