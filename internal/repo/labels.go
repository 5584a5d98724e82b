package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"docfish/internal/domain"
)

// EnsureLabel returns the (name, label) entry, creating it with id when absent.
func (r Repo) EnsureLabel(ctx context.Context, tx *sql.Tx, id, name, label string) (domain.Label, error) {
	if _, err := r.q(tx).ExecContext(ctx, `INSERT INTO labels(id, name, label) VALUES (?,?,?) ON CONFLICT(name, label) DO NOTHING`, id, name, label); err != nil {
		return domain.Label{}, err
	}
	return r.FindLabel(ctx, tx, name, label)
}

func (r Repo) FindLabel(ctx context.Context, tx *sql.Tx, name, label string) (domain.Label, error) {
	var l domain.Label
	err := r.q(tx).QueryRowContext(ctx, `SELECT id, name, label FROM labels WHERE name=? AND label=?`, name, label).Scan(&l.ID, &l.Name, &l.Label)
	return l, notFound(err, "label %s:%s", name, label)
}

func (r Repo) GetLabel(ctx context.Context, tx *sql.Tx, id string) (domain.Label, error) {
	var l domain.Label
	err := r.q(tx).QueryRowContext(ctx, `SELECT id, name, label FROM labels WHERE id=?`, id).Scan(&l.ID, &l.Name, &l.Label)
	return l, notFound(err, "label %s", id)
}

func scanLabel(rows *sql.Rows) (domain.Label, error) {
	var l domain.Label
	err := rows.Scan(&l.ID, &l.Name, &l.Label)
	return l, err
}

// ListLabels returns the catalog, or one collection's vocabulary when collectionID is set.
func (r Repo) ListLabels(ctx context.Context, tx *sql.Tx, collectionID string) ([]domain.Label, error) {
	b := queryBuilder().Select("l.id", "l.name", "l.label").From("labels l").OrderBy("l.name", "l.label")
	if collectionID != "" {
		b = b.Join("collection_labels cl ON cl.label_id = l.id").Where(squirrel.Eq{"cl.collection_id": collectionID})
	}
	return selectAll(ctx, r.q(tx), b, scanLabel)
}

func (r Repo) AddCollectionLabel(ctx context.Context, tx *sql.Tx, collectionID, labelID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO collection_labels(collection_id, label_id) VALUES (?,?)`, collectionID, labelID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) RemoveCollectionLabel(ctx context.Context, tx *sql.Tx, collectionID, labelID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM collection_labels WHERE collection_id=? AND label_id=?`, collectionID, labelID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) CollectionHasLabel(ctx context.Context, tx *sql.Tx, collectionID, labelID string) (bool, error) {
	return exists(ctx, r.q(tx), `SELECT 1 FROM collection_labels WHERE collection_id=? AND label_id=? LIMIT 1`, collectionID, labelID)
}

func (r Repo) CountCollectionLabels(ctx context.Context, tx *sql.Tx, collectionID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM collection_labels WHERE collection_id=?`, collectionID).Scan(&n)
	return n, err
}
