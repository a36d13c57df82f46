package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_logs through pgx.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the postgres audit reader.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Window implements Repository.
func (r *PGRepository) Window(ctx context.Context, f TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	query, args := windowQuery(f, offset, limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query timeline: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var (
			out   TimelineRow
			actor pgtype.Int8
			meta  []byte
		)
		if err := row.Scan(&out.ID, &out.At, &actor, &out.Action, &out.Entity, &out.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if actor.Valid {
			out.ActorID = actor.Int64
		}
		if len(meta) > 0 && string(meta) != "null" {
			if err := json.Unmarshal(meta, &out.Meta); err != nil {
				return TimelineRow{}, fmt.Errorf("audit: decode meta: %w", err)
			}
		}
		return out, nil
	})
}

func windowQuery(f TimelineFilters, offset, limit int) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, occurred_at, actor_id, action, entity, entity_id, meta FROM audit_logs WHERE organization_id = $1`)
	args := []any{f.OrganizationID}
	add := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&sb, " AND "+clause, len(args))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	if f.ActorID > 0 {
		add("actor_id = $%d", f.ActorID)
	}
	if e := strings.TrimSpace(f.Entity); e != "" {
		add("entity = $%d", e)
	}
	if id := strings.TrimSpace(f.EntityID); id != "" {
		add("entity_id = $%d", id)
	}
	if a := strings.TrimSpace(f.Action); a != "" {
		add("action = $%d", a)
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&sb, " ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return sb.String(), args
}
