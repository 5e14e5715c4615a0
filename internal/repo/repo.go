package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"agentfloor/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- companies ---

func (r Repo) InsertCompany(ctx context.Context, tx *sql.Tx, c domain.Company) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO companies(id,name,description,created_at,updated_at) VALUES (?,?,?,?,?)`,
		c.ID, c.Name, nullable(c.Description), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCompany(ctx context.Context, id string) (domain.Company, error) {
	var c domain.Company
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,created_at,updated_at FROM companies WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &desc, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if desc.Valid {
		c.Description = desc.String
	}
	return c, err
}

// CompanyListing is one row of the company overview.
type CompanyListing struct {
	Company      domain.Company
	AgentCount   int
	LastActivity *string
}

func (r Repo) ListCompanies(ctx context.Context) ([]CompanyListing, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT c.id, c.name, COALESCE(c.description,''), c.created_at, c.updated_at,
       (SELECT COUNT(*) FROM agents a WHERE a.company_id = c.id),
       (SELECT MAX(ts) FROM events e WHERE e.company_id = c.id)
FROM companies c ORDER BY c.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CompanyListing
	for rows.Next() {
		var item CompanyListing
		var last sql.NullString
		if err := rows.Scan(&item.Company.ID, &item.Company.Name, &item.Company.Description,
			&item.Company.CreatedAt, &item.Company.UpdatedAt, &item.AgentCount, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			item.LastActivity = &last.String
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func (r Repo) DeleteCompany(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM companies WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- agents ---

const agentColumns = `id,company_id,agent_id,name,role,status,current_task,position_zone,position_x,position_y,created_at`

func scanAgent(scan func(...any) error) (domain.Agent, error) {
	var a domain.Agent
	var task sql.NullString
	err := scan(&a.ID, &a.CompanyID, &a.AgentID, &a.Name, &a.Role, &a.Status, &task,
		&a.PositionZone, &a.PositionX, &a.PositionY, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if task.Valid {
		a.CurrentTask = &task.String
	}
	return a, err
}

func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agents(`+agentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.CompanyID, a.AgentID, a.Name, a.Role, a.Status, nullableStringPtr(a.CurrentTask),
		a.PositionZone, a.PositionX, a.PositionY, a.CreatedAt)
	return err
}

// GetAgent resolves an agent by its company-scoped identifier.
func (r Repo) GetAgent(ctx context.Context, companyID, agentID string) (domain.Agent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE company_id=? AND agent_id=?`, companyID, agentID)
	return scanAgent(row.Scan)
}

func (r Repo) GetAgentTx(ctx context.Context, tx *sql.Tx, companyID, agentID string) (domain.Agent, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE company_id=? AND agent_id=?`, companyID, agentID)
	return scanAgent(row.Scan)
}

func (r Repo) ListAgents(ctx context.Context, companyID string) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE company_id=? ORDER BY created_at ASC, agent_id ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) CountAgents(ctx context.Context, companyID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE company_id=?`, companyID).Scan(&n)
	return n, err
}

// UpdateAgentState persists the projector's mutations for one agent.
func (r Repo) UpdateAgentState(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	_, err := tx.ExecContext(ctx, `UPDATE agents SET status=?, current_task=?, position_zone=? WHERE company_id=? AND agent_id=?`,
		a.Status, nullableStringPtr(a.CurrentTask), a.PositionZone, a.CompanyID, a.AgentID)
	return err
}

func (r Repo) DeleteAgent(ctx context.Context, tx *sql.Tx, companyID, agentID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE company_id=? AND agent_id=?`, companyID, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- events ---

// EventFilters narrow the activity log. AgentID matches either side of an
// event; pagination is offset/limit, newest first.
type EventFilters struct {
	CompanyID string
	AgentID   string
	EventType string
	Limit     int
	Offset    int
}

func (f EventFilters) build() (string, []any) {
	clauses := []string{"company_id=?"}
	args := []any{f.CompanyID}
	if f.AgentID != "" {
		clauses = append(clauses, "(from_agent=? OR to_agent=?)")
		args = append(args, f.AgentID, f.AgentID)
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type=?")
		args = append(args, f.EventType)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	where, args := f.build()
	query := `SELECT id,company_id,from_agent,to_agent,event_type,payload_json,inferred_actions_json,ts FROM events ` +
		where + ` ORDER BY ts DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var from, to sql.NullString
		var payloadJSON, actionsJSON string
		if err := rows.Scan(&e.ID, &e.CompanyID, &from, &to, &e.EventType, &payloadJSON, &actionsJSON, &e.Timestamp); err != nil {
			return nil, err
		}
		if from.Valid {
			e.FromAgent = &from.String
		}
		if to.Valid {
			e.ToAgent = &to.String
		}
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(actionsJSON), &e.InferredActions); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountEvents(ctx context.Context, f EventFilters) (int, error) {
	where, args := f.build()
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events `+where, args...).Scan(&n)
	return n, err
}

// --- movements ---

const movementColumns = `id,company_id,agent_id,from_zone,to_zone,purpose,artifact,progress,created_at`

func scanMovement(scan func(...any) error) (domain.Movement, error) {
	var m domain.Movement
	var artifact sql.NullString
	err := scan(&m.ID, &m.CompanyID, &m.AgentID, &m.FromZone, &m.ToZone, &m.Purpose, &artifact, &m.Progress, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if artifact.Valid {
		m.Artifact = &artifact.String
	}
	return m, err
}

func (r Repo) InsertMovement(ctx context.Context, tx *sql.Tx, m domain.Movement) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO movements(`+movementColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.CompanyID, m.AgentID, m.FromZone, m.ToZone, m.Purpose, nullableStringPtr(m.Artifact), m.Progress, m.CreatedAt)
	return err
}

func (r Repo) GetMovement(ctx context.Context, id string) (domain.Movement, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+movementColumns+` FROM movements WHERE id=?`, id)
	return scanMovement(row.Scan)
}

func (r Repo) GetMovementTx(ctx context.Context, tx *sql.Tx, id string) (domain.Movement, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+movementColumns+` FROM movements WHERE id=?`, id)
	return scanMovement(row.Scan)
}

// ListPendingMovements returns movements still animating (progress < 1.0).
func (r Repo) ListPendingMovements(ctx context.Context, companyID string) ([]domain.Movement, error) {
	return r.listMovements(ctx, `SELECT `+movementColumns+` FROM movements WHERE company_id=? AND progress < 1.0 ORDER BY created_at ASC, id ASC`, companyID)
}

func (r Repo) ListMovements(ctx context.Context, companyID string) ([]domain.Movement, error) {
	return r.listMovements(ctx, `SELECT `+movementColumns+` FROM movements WHERE company_id=? ORDER BY created_at ASC, id ASC`, companyID)
}

func (r Repo) listMovements(ctx context.Context, query string, args ...any) ([]domain.Movement, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Movement
	for rows.Next() {
		m, err := scanMovement(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) UpdateMovementProgress(ctx context.Context, tx *sql.Tx, id string, progress float64) error {
	res, err := tx.ExecContext(ctx, `UPDATE movements SET progress=? WHERE id=?`, progress, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCompletedMovements garbage-collects movements with progress >= 1.0.
func (r Repo) DeleteCompletedMovements(ctx context.Context, companyID string) (int, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM movements WHERE company_id=? AND progress >= 1.0`, companyID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r Repo) DeleteAgentMovements(ctx context.Context, tx *sql.Tx, companyID, agentID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM movements WHERE company_id=? AND agent_id=?`, companyID, agentID)
	return err
}

// --- role configs ---

const roleConfigColumns = `id,role_id,display_name,color,zone_color,is_default,created_at`

func scanRoleConfig(scan func(...any) error) (domain.RoleConfig, error) {
	var rc domain.RoleConfig
	err := scan(&rc.ID, &rc.RoleID, &rc.DisplayName, &rc.Color, &rc.ZoneColor, &rc.IsDefault, &rc.CreatedAt)
	if err == sql.ErrNoRows {
		return rc, ErrNotFound
	}
	return rc, err
}

func (r Repo) InsertRoleConfig(ctx context.Context, tx *sql.Tx, rc domain.RoleConfig) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO role_configs(`+roleConfigColumns+`) VALUES (?,?,?,?,?,?,?)`,
		rc.ID, rc.RoleID, rc.DisplayName, rc.Color, rc.ZoneColor, rc.IsDefault, rc.CreatedAt)
	return err
}

func (r Repo) GetRoleConfig(ctx context.Context, roleID string) (domain.RoleConfig, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+roleConfigColumns+` FROM role_configs WHERE role_id=?`, roleID)
	return scanRoleConfig(row.Scan)
}

func (r Repo) GetRoleConfigTx(ctx context.Context, tx *sql.Tx, roleID string) (domain.RoleConfig, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+roleConfigColumns+` FROM role_configs WHERE role_id=?`, roleID)
	return scanRoleConfig(row.Scan)
}

func (r Repo) ListRoleConfigs(ctx context.Context) ([]domain.RoleConfig, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+roleConfigColumns+` FROM role_configs ORDER BY created_at ASC, role_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RoleConfig
	for rows.Next() {
		rc, err := scanRoleConfig(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rc)
	}
	return res, rows.Err()
}

// CountCustomRoleConfigs reports how many palette slots are already taken.
func (r Repo) CountCustomRoleConfigsTx(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM role_configs WHERE is_default=0`).Scan(&n)
	return n, err
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
