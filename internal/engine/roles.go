package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/google/uuid"

	"agentfloor/internal/domain"
	"agentfloor/internal/repo"
)

// SeedRoles inserts the configured default role styles that are not in the
// database yet. Run once at startup; safe to repeat.
func (e Engine) SeedRoles(ctx context.Context) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	roles := make([]string, 0, len(e.Config.Roles.Catalog))
	for role := range e.Config.Roles.Catalog {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, role := range roles {
		if _, err := e.Repo.GetRoleConfigTx(ctx, tx, role); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		style := e.Config.Roles.Catalog[role]
		rc := domain.RoleConfig{
			ID:          uuid.New().String(),
			RoleID:      role,
			DisplayName: style.DisplayName,
			Color:       style.Color,
			ZoneColor:   style.ZoneColor,
			IsDefault:   true,
			CreatedAt:   e.nowString(),
		}
		if err := e.Repo.InsertRoleConfig(ctx, tx, rc); err != nil {
			return fmt.Errorf("seed role %s: %w", role, err)
		}
	}
	return tx.Commit()
}

// EnsureRoleConfig resolves styling for a role, creating it on first use.
func (e Engine) EnsureRoleConfig(ctx context.Context, role string) (domain.RoleConfig, error) {
	if rc, err := e.Repo.GetRoleConfig(ctx, role); err == nil {
		return rc, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.RoleConfig{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RoleConfig{}, err
	}
	defer tx.Rollback()
	rc, err := e.EnsureRoleConfigTx(ctx, tx, role)
	if err != nil {
		return domain.RoleConfig{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RoleConfig{}, err
	}
	return rc, nil
}

// EnsureRoleConfigTx is EnsureRoleConfig inside an existing transaction.
// Styling tiers: configured catalog, then the palette in first-seen order,
// then a hash-derived color once the palette is exhausted.
func (e Engine) EnsureRoleConfigTx(ctx context.Context, tx *sql.Tx, role string) (domain.RoleConfig, error) {
	if role == "" {
		return domain.RoleConfig{}, validationf("role is required")
	}
	if rc, err := e.Repo.GetRoleConfigTx(ctx, tx, role); err == nil {
		return rc, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.RoleConfig{}, err
	}
	rc := domain.RoleConfig{
		ID:        uuid.New().String(),
		RoleID:    role,
		CreatedAt: e.nowString(),
	}
	if e.Config != nil {
		if style, ok := e.Config.Roles.Catalog[role]; ok {
			rc.DisplayName = style.DisplayName
			rc.Color = style.Color
			rc.ZoneColor = style.ZoneColor
			rc.IsDefault = true
		}
	}
	if rc.Color == "" {
		rc.DisplayName = displayName(role)
		rc.Color, rc.ZoneColor = e.customStyle(ctx, tx, role)
	}
	if err := e.Repo.InsertRoleConfig(ctx, tx, rc); err != nil {
		return domain.RoleConfig{}, fmt.Errorf("create role config %s: %w", role, err)
	}
	return rc, nil
}

func (e Engine) customStyle(ctx context.Context, tx *sql.Tx, role string) (string, string) {
	if e.Config != nil && len(e.Config.Roles.Palette) > 0 {
		taken, err := e.Repo.CountCustomRoleConfigsTx(ctx, tx)
		if err == nil && taken < len(e.Config.Roles.Palette) {
			entry := e.Config.Roles.Palette[taken]
			return entry.Color, entry.ZoneColor
		}
	}
	return hashStyle(role)
}

// hashStyle derives a stable color pair from the role string for roles
// beyond the palette. Same role, same color, on every installation.
func hashStyle(role string) (string, string) {
	h := fnv.New32a()
	h.Write([]byte(role))
	sum := h.Sum32()
	r := byte(sum >> 16)
	g := byte(sum >> 8)
	b := byte(sum)
	color := fmt.Sprintf("#%02X%02X%02X", r, g, b)
	zone := fmt.Sprintf("rgba(%d, %d, %d, 0.3)", r, g, b)
	return color, zone
}

func displayName(role string) string {
	out := make([]byte, 0, len(role))
	upper := true
	for i := 0; i < len(role); i++ {
		ch := role[i]
		if ch == '_' || ch == '-' {
			out = append(out, ' ')
			upper = true
			continue
		}
		if upper && ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}
		upper = false
		out = append(out, ch)
	}
	return string(out)
}
