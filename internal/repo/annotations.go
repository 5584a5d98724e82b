package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"docfish/internal/domain"
)

const annotationColumns = "a.id, a.scope_kind, a.scope_id, a.created_by, a.target_id, COALESCE(a.collection_id,''), a.label_id, a.label_name, l.label, COALESCE(a.coordinates_json,''), a.created_at, a.updated_at"

func selectAnnotations() squirrel.SelectBuilder {
	return queryBuilder().Select(annotationColumns).From("annotations a").Join("labels l ON l.id = a.label_id")
}

func scanAnnotation(row interface{ Scan(...any) error }) (domain.AnnotationRecord, error) {
	var a domain.AnnotationRecord
	var kind string
	err := row.Scan(&a.ID, &kind, &a.Scope.ID, &a.CreatedBy, &a.TargetID, &a.CollectionID, &a.LabelID, &a.Name, &a.Label, &a.CoordinatesJSON, &a.CreatedAt, &a.UpdatedAt)
	a.Scope.Kind = domain.ScopeKind(kind)
	return a, err
}

// DeleteSupersededAnnotations removes the scope's records for (target, name)
// that carry a different label than keepLabelID.
func (r Repo) DeleteSupersededAnnotations(ctx context.Context, tx *sql.Tx, scope domain.Scope, targetID, name, keepLabelID string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM annotations WHERE scope_kind=? AND scope_id=? AND target_id=? AND label_name=? AND label_id<>?`,
		string(scope.Kind), scope.ID, targetID, name, keepLabelID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertAnnotation creates the record unless the scope already holds this
// (target, name). An existing record with the same label only picks up new
// coordinates; it reports false when nothing changed.
func (r Repo) InsertAnnotation(ctx context.Context, tx *sql.Tx, a domain.AnnotationRecord) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO annotations(id, scope_kind, scope_id, created_by, target_id, collection_id, label_id, label_name, coordinates_json, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(scope_kind, scope_id, target_id, label_name) DO UPDATE SET
  coordinates_json=excluded.coordinates_json,
  updated_at=excluded.updated_at
WHERE excluded.coordinates_json IS NOT NULL
  AND COALESCE(annotations.coordinates_json,'') <> excluded.coordinates_json
  AND annotations.label_id = excluded.label_id`,
		a.ID, string(a.Scope.Kind), a.Scope.ID, a.CreatedBy, a.TargetID, a.CollectionID, a.LabelID, a.Name, nullable(a.CoordinatesJSON), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return false, conflict(err, "annotation %s on %s", a.Name, a.TargetID)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetAnnotation(ctx context.Context, tx *sql.Tx, scope domain.Scope, targetID, name string) (domain.AnnotationRecord, error) {
	query, args, err := selectAnnotations().
		Where(squirrel.Eq{"a.scope_kind": string(scope.Kind), "a.scope_id": scope.ID, "a.target_id": targetID, "a.label_name": name}).
		ToSql()
	if err != nil {
		return domain.AnnotationRecord{}, err
	}
	a, err := scanAnnotation(r.q(tx).QueryRowContext(ctx, query, args...))
	return a, notFound(err, "annotation %s on target %s", name, targetID)
}

// DeleteScopeAnnotations removes every record the scope holds on a target.
func (r Repo) DeleteScopeAnnotations(ctx context.Context, tx *sql.Tx, scope domain.Scope, targetID string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM annotations WHERE scope_kind=? AND scope_id=? AND target_id=?`,
		string(scope.Kind), scope.ID, targetID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountScopesByName counts distinct scopes per label name for a target,
// whichever collection the records were made in.
func (r Repo) CountScopesByName(ctx context.Context, tx *sql.Tx, targetID string) (map[string]int, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT label_name, COUNT(DISTINCT scope_kind || ':' || scope_id) FROM annotations
WHERE target_id=?
GROUP BY label_name`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// RecordFilter narrows record listings. Records belong to targets, so
// CollectionID keeps the records on the collection's targets whichever
// collection they were made in.
type RecordFilter struct {
	CollectionID string
	TargetID     string
	Scope        *domain.Scope
}

func (f RecordFilter) apply(b squirrel.SelectBuilder, alias string) squirrel.SelectBuilder {
	if f.CollectionID != "" {
		b = b.Where(squirrel.Expr("EXISTS (SELECT 1 FROM targets rt JOIN collection_entities rce ON rce.entity_id = rt.entity_id WHERE rt.id = "+alias+".target_id AND rce.collection_id = ?)", f.CollectionID))
	}
	if f.TargetID != "" {
		b = b.Where(squirrel.Eq{alias + ".target_id": f.TargetID})
	}
	if f.Scope != nil {
		b = b.Where(squirrel.Eq{alias + ".scope_kind": string(f.Scope.Kind), alias + ".scope_id": f.Scope.ID})
	}
	return b
}

func (r Repo) ListAnnotations(ctx context.Context, tx *sql.Tx, f RecordFilter) ([]domain.AnnotationRecord, error) {
	b := f.apply(selectAnnotations(), "a").OrderBy("a.target_id", "a.label_name", "a.scope_kind", "a.scope_id")
	return selectAll(ctx, r.q(tx), b, func(rows *sql.Rows) (domain.AnnotationRecord, error) { return scanAnnotation(rows) })
}
