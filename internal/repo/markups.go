package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"docfish/internal/domain"
)

const markupColumns = "m.id, m.scope_kind, m.scope_id, m.created_by, m.target_id, COALESCE(m.collection_id,''), m.target_kind, COALESCE(m.overlay_path,''), COALESCE(m.base_path,''), COALESCE(m.transform_json,''), COALESCE(m.delimiter,''), COALESCE(m.body,''), COALESCE(m.spans_json,''), m.created_at, m.updated_at"

func scanMarkup(row interface{ Scan(...any) error }) (domain.MarkupRecord, error) {
	var m domain.MarkupRecord
	var scopeKind, kind, overlay, base, transform, delimiter, body, spans string
	err := row.Scan(&m.ID, &scopeKind, &m.Scope.ID, &m.CreatedBy, &m.TargetID, &m.CollectionID, &kind,
		&overlay, &base, &transform, &delimiter, &body, &spans, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return m, err
	}
	m.Scope.Kind = domain.ScopeKind(scopeKind)
	m.Kind = domain.TargetKind(kind)
	switch m.Kind {
	case domain.TargetImage:
		m.Image = &domain.ImageMarkup{OverlayPath: overlay, BasePath: base, TransformJSON: transform}
	case domain.TargetText:
		m.Text = &domain.TextMarkup{Delimiter: delimiter, Text: body, Spans: []domain.Span{}}
		if spans != "" {
			if err := json.Unmarshal([]byte(spans), &m.Text.Spans); err != nil {
				return m, errors.Wrapf(err, "decode spans of markup %s", m.ID)
			}
		}
	}
	return m, nil
}

// UpsertMarkup replaces the scope's single markup on a target.
func (r Repo) UpsertMarkup(ctx context.Context, tx *sql.Tx, m domain.MarkupRecord) error {
	var overlay, base, transform, delimiter, body, spans string
	switch {
	case m.Image != nil:
		overlay, base, transform = m.Image.OverlayPath, m.Image.BasePath, m.Image.TransformJSON
	case m.Text != nil:
		delimiter, body = m.Text.Delimiter, m.Text.Text
		data, err := json.Marshal(m.Text.Spans)
		if err != nil {
			return errors.Wrap(err, "encode spans")
		}
		spans = string(data)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO markups(id, scope_kind, scope_id, created_by, target_id, collection_id, target_kind, overlay_path, base_path, transform_json, delimiter, body, spans_json, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(scope_kind, scope_id, target_id) DO UPDATE SET
  created_by=excluded.created_by,
  collection_id=excluded.collection_id,
  overlay_path=excluded.overlay_path,
  base_path=excluded.base_path,
  transform_json=excluded.transform_json,
  delimiter=excluded.delimiter,
  body=excluded.body,
  spans_json=excluded.spans_json,
  updated_at=excluded.updated_at`,
		m.ID, string(m.Scope.Kind), m.Scope.ID, m.CreatedBy, m.TargetID, m.CollectionID, string(m.Kind),
		nullable(overlay), nullable(base), nullable(transform), nullable(delimiter), nullable(body), nullable(spans),
		m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMarkup(ctx context.Context, tx *sql.Tx, scope domain.Scope, targetID string) (domain.MarkupRecord, error) {
	m, err := scanMarkup(r.q(tx).QueryRowContext(ctx, `SELECT `+markupColumns+` FROM markups m WHERE m.scope_kind=? AND m.scope_id=? AND m.target_id=?`,
		string(scope.Kind), scope.ID, targetID))
	return m, notFound(err, "markup on target %s", targetID)
}

// ImageBase returns a base image path any scope already recorded for the target.
func (r Repo) ImageBase(ctx context.Context, tx *sql.Tx, targetID string) (string, error) {
	var base string
	err := r.q(tx).QueryRowContext(ctx, `SELECT base_path FROM markups WHERE target_id=? AND base_path IS NOT NULL AND base_path<>'' ORDER BY created_at LIMIT 1`, targetID).Scan(&base)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return base, err
}

func (r Repo) ListMarkups(ctx context.Context, tx *sql.Tx, f RecordFilter) ([]domain.MarkupRecord, error) {
	b := f.apply(queryBuilder().Select(markupColumns).From("markups m"), "m").OrderBy("m.target_id", "m.scope_kind", "m.scope_id")
	return selectAll(ctx, r.q(tx), b, func(rows *sql.Rows) (domain.MarkupRecord, error) { return scanMarkup(rows) })
}
