package repo

import (
	"context"
	"database/sql"

	"docfish/internal/domain"
)

const descriptionColumns = "d.id, d.scope_kind, d.scope_id, d.created_by, d.target_id, COALESCE(d.collection_id,''), d.body, d.created_at, d.updated_at"

func scanDescription(row interface{ Scan(...any) error }) (domain.DescriptionRecord, error) {
	var d domain.DescriptionRecord
	var kind string
	err := row.Scan(&d.ID, &kind, &d.Scope.ID, &d.CreatedBy, &d.TargetID, &d.CollectionID, &d.Body, &d.CreatedAt, &d.UpdatedAt)
	d.Scope.Kind = domain.ScopeKind(kind)
	return d, err
}

func (r Repo) UpsertDescription(ctx context.Context, tx *sql.Tx, d domain.DescriptionRecord) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO descriptions(id, scope_kind, scope_id, created_by, target_id, collection_id, body, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(scope_kind, scope_id, target_id) DO UPDATE SET
  created_by=excluded.created_by,
  collection_id=excluded.collection_id,
  body=excluded.body,
  updated_at=excluded.updated_at`,
		d.ID, string(d.Scope.Kind), d.Scope.ID, d.CreatedBy, d.TargetID, d.CollectionID, d.Body, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDescription(ctx context.Context, tx *sql.Tx, scope domain.Scope, targetID string) (domain.DescriptionRecord, error) {
	d, err := scanDescription(r.q(tx).QueryRowContext(ctx, `SELECT `+descriptionColumns+` FROM descriptions d WHERE d.scope_kind=? AND d.scope_id=? AND d.target_id=?`,
		string(scope.Kind), scope.ID, targetID))
	return d, notFound(err, "description on target %s", targetID)
}

func (r Repo) ListDescriptions(ctx context.Context, tx *sql.Tx, f RecordFilter) ([]domain.DescriptionRecord, error) {
	b := f.apply(queryBuilder().Select(descriptionColumns).From("descriptions d"), "d").OrderBy("d.target_id", "d.scope_kind", "d.scope_id")
	return selectAll(ctx, r.q(tx), b, func(rows *sql.Rows) (domain.DescriptionRecord, error) { return scanDescription(rows) })
}
