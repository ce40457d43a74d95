package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ledgerline/invoicing/internal/shared"
)

// PgRepository reads audit_logs.
type PgRepository struct {
	db shared.QuerierSource
}

// NewRepository constructs the repository.
func NewRepository(source shared.QuerierSource) *PgRepository {
	return &PgRepository{db: source}
}

const windowQuery = `
	SELECT occurred_at, actor_id, actor_email, action, COALESCE(from_status, ''), COALESCE(to_status, ''), meta
	FROM audit_logs
	WHERE entity = $1 AND entity_id = $2
		AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		AND ($4::timestamptz IS NULL OR occurred_at <= $4)
		AND ($5::text IS NULL OR actor_email = $5)
		AND ($6::text IS NULL OR action = $6)
	ORDER BY occurred_at, id
	OFFSET $7 LIMIT $8`

// Window implements Repository.
func (r *PgRepository) Window(ctx context.Context, q Query) ([]Entry, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, windowQuery,
		q.Entity, q.EntityID,
		toPgTime(q.From), toPgTime(q.To),
		optionalText(q.Actor), optionalText(q.Action),
		q.Offset, q.Limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e       Entry
			actorID pgtype.Int8
			meta    []byte
		)
		if err := row.Scan(&e.At, &actorID, &e.ActorEmail, &e.Action, &e.FromStatus, &e.ToStatus, &meta); err != nil {
			return Entry{}, err
		}
		if actorID.Valid {
			id := actorID.Int64
			e.ActorID = &id
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return Entry{}, err
			}
		}
		return e, nil
	})
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}
