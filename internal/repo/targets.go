package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"

	"docfish/internal/domain"
)

func (r Repo) InsertEntity(ctx context.Context, tx *sql.Tx, e domain.Entity) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO entities(id, uid, metadata_json, created_at) VALUES (?,?,?,?)`,
		e.ID, e.UID, nullable(e.MetadataJSON), e.CreatedAt)
	return conflict(err, "entity %s already exists", e.UID)
}

func (r Repo) GetEntity(ctx context.Context, tx *sql.Tx, id string) (domain.Entity, error) {
	var e domain.Entity
	err := r.q(tx).QueryRowContext(ctx, `SELECT id, uid, COALESCE(metadata_json,''), created_at FROM entities WHERE id=? OR uid=?`, id, id).
		Scan(&e.ID, &e.UID, &e.MetadataJSON, &e.CreatedAt)
	return e, notFound(err, "entity %s", id)
}

func (r Repo) ListEntities(ctx context.Context, collectionID string) ([]domain.Entity, error) {
	b := queryBuilder().
		Select("e.id", "e.uid", "COALESCE(e.metadata_json,'')", "e.created_at").
		From("entities e").
		OrderBy("e.uid")
	if collectionID != "" {
		b = b.Join("collection_entities ce ON ce.entity_id = e.id").Where(squirrel.Eq{"ce.collection_id": collectionID})
	}
	return selectAll(ctx, r.DB, b, func(rows *sql.Rows) (domain.Entity, error) {
		var e domain.Entity
		err := rows.Scan(&e.ID, &e.UID, &e.MetadataJSON, &e.CreatedAt)
		return e, err
	})
}

func (r Repo) LinkEntity(ctx context.Context, tx *sql.Tx, collectionID, entityID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO collection_entities(collection_id, entity_id) VALUES (?,?)`, collectionID, entityID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const targetColumns = "t.id, t.uid, t.kind, t.entity_id, t.source, t.location, t.active, COALESCE(t.metadata_json,''), t.created_at"

func scanTarget(row interface{ Scan(...any) error }) (domain.Target, error) {
	var t domain.Target
	var kind, source string
	var active int
	err := row.Scan(&t.ID, &t.UID, &kind, &t.EntityID, &source, &t.Location, &active, &t.MetadataJSON, &t.CreatedAt)
	t.Kind = domain.TargetKind(kind)
	t.Source = domain.TargetSource(source)
	t.Active = active != 0
	return t, err
}

func (r Repo) InsertTarget(ctx context.Context, tx *sql.Tx, t domain.Target) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO targets(id, uid, kind, entity_id, source, location, active, metadata_json, created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UID, string(t.Kind), t.EntityID, string(t.Source), t.Location, boolInt(t.Active), nullable(t.MetadataJSON), t.CreatedAt)
	return conflict(err, "%s target %s already exists", t.Kind, t.UID)
}

func (r Repo) GetTarget(ctx context.Context, tx *sql.Tx, id string) (domain.Target, error) {
	t, err := scanTarget(r.q(tx).QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets t WHERE t.id=?`, id))
	return t, notFound(err, "target %s", id)
}

// GetCollectionTarget returns the target only when its entity belongs to the collection.
func (r Repo) GetCollectionTarget(ctx context.Context, tx *sql.Tx, collectionID, targetID string) (domain.Target, error) {
	t, err := scanTarget(r.q(tx).QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets t
JOIN collection_entities ce ON ce.entity_id = t.entity_id
WHERE ce.collection_id=? AND t.id=?`, collectionID, targetID))
	return t, notFound(err, "target %s in collection %s", targetID, collectionID)
}

type TargetFilter struct {
	CollectionID string
	EntityID     string
	Kind         domain.TargetKind
	ActiveOnly   bool
}

func (r Repo) ListTargets(ctx context.Context, f TargetFilter) ([]domain.Target, error) {
	b := queryBuilder().Select(targetColumns).From("targets t").OrderBy("t.rowid")
	if f.CollectionID != "" {
		b = b.Join("collection_entities ce ON ce.entity_id = t.entity_id").Where(squirrel.Eq{"ce.collection_id": f.CollectionID})
	}
	if f.EntityID != "" {
		b = b.Where(squirrel.Eq{"t.entity_id": f.EntityID})
	}
	if f.Kind != "" {
		b = b.Where(squirrel.Eq{"t.kind": string(f.Kind)})
	}
	if f.ActiveOnly {
		b = b.Where(squirrel.Eq{"t.active": 1})
	}
	return selectAll(ctx, r.DB, b, func(rows *sql.Rows) (domain.Target, error) { return scanTarget(rows) })
}

func (r Repo) SetTargetActive(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE targets SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "target %s", id)
	}
	return nil
}

// CountTargetsByKind counts active targets per kind reachable from a collection.
func (r Repo) CountTargetsByKind(ctx context.Context, tx *sql.Tx, collectionID string) (map[domain.TargetKind]int, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT t.kind, COUNT(*) FROM targets t
JOIN collection_entities ce ON ce.entity_id = t.entity_id
WHERE ce.collection_id=? AND t.active=1
GROUP BY t.kind`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[domain.TargetKind]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[domain.TargetKind(kind)] = n
	}
	return out, rows.Err()
}
