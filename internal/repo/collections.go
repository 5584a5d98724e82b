package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"

	"docfish/internal/domain"
)

// Permission index entries kept per collection.
const (
	PermEditCollection   = "edit_collection"
	PermDeleteCollection = "del_collection"
)

const collectionColumns = "c.id, c.name, COALESCE(c.description,''), c.owner_id, c.private, c.created_at, c.updated_at"

func scanCollection(row interface{ Scan(...any) error }) (domain.Collection, error) {
	var c domain.Collection
	var private int
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.OwnerID, &private, &c.CreatedAt, &c.UpdatedAt)
	c.Private = private != 0
	return c, err
}

func (r Repo) InsertCollection(ctx context.Context, tx *sql.Tx, c domain.Collection) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO collections(id, name, description, owner_id, private, created_at, updated_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.Name, nullable(c.Description), c.OwnerID, boolInt(c.Private), c.CreatedAt, c.UpdatedAt)
	return conflict(err, "collection %s already exists", c.ID)
}

// GetCollection loads a collection with its contributors.
func (r Repo) GetCollection(ctx context.Context, tx *sql.Tx, id string) (domain.Collection, error) {
	c, err := scanCollection(r.q(tx).QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections c WHERE c.id=?`, id))
	if err != nil {
		return c, notFound(err, "collection %s", id)
	}
	c.Contributors, err = r.ListContributors(ctx, tx, id)
	return c, err
}

type CollectionFilter struct {
	OwnerID string
	// ViewerID limits private collections to those owned by or shared with the viewer.
	// Empty means anonymous: public collections only.
	ViewerID string
	// ViewerInstitution also admits private collections whose owner shares it.
	ViewerInstitution string
	All               bool
}

func (r Repo) ListCollections(ctx context.Context, f CollectionFilter) ([]domain.Collection, error) {
	b := queryBuilder().Select(collectionColumns).From("collections c").OrderBy("c.created_at DESC", "c.id")
	if f.OwnerID != "" {
		b = b.Where(squirrel.Eq{"c.owner_id": f.OwnerID})
	}
	if !f.All {
		visible := squirrel.Or{squirrel.Eq{"c.private": 0}}
		if f.ViewerID != "" {
			visible = append(visible,
				squirrel.Eq{"c.owner_id": f.ViewerID},
				squirrel.Expr("EXISTS (SELECT 1 FROM collection_contributors cc WHERE cc.collection_id = c.id AND cc.user_id = ?)", f.ViewerID),
			)
			if f.ViewerInstitution != "" {
				visible = append(visible,
					squirrel.Expr("EXISTS (SELECT 1 FROM users o WHERE o.id = c.owner_id AND o.institution = ?)", f.ViewerInstitution))
			}
		}
		b = b.Where(visible)
	}
	items, err := selectAll(ctx, r.DB, b, func(rows *sql.Rows) (domain.Collection, error) { return scanCollection(rows) })
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Contributors, err = r.ListContributors(ctx, nil, items[i].ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (r Repo) TouchCollection(ctx context.Context, tx *sql.Tx, id, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE collections SET updated_at=? WHERE id=?`, now, id)
	return err
}

func (r Repo) SetCollectionPrivacy(ctx context.Context, tx *sql.Tx, id string, private bool, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE collections SET private=?, updated_at=? WHERE id=?`, boolInt(private), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "collection %s", id)
	}
	return nil
}

func (r Repo) DeleteCollection(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM collections WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "collection %s", id)
	}
	return nil
}

func (r Repo) ListContributors(ctx context.Context, tx *sql.Tx, collectionID string) ([]string, error) {
	ids, err := scanStrings(ctx, r.q(tx), `SELECT user_id FROM collection_contributors WHERE collection_id=? ORDER BY user_id`, collectionID)
	if ids == nil {
		ids = []string{}
	}
	return ids, err
}

func (r Repo) AddContributor(ctx context.Context, tx *sql.Tx, collectionID, userID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO collection_contributors(collection_id, user_id, added_at) VALUES (?,?,?)`, collectionID, userID, now)
	return err
}

func (r Repo) RemoveContributor(ctx context.Context, tx *sql.Tx, collectionID, userID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM collection_contributors WHERE collection_id=? AND user_id=?`, collectionID, userID)
	return err
}

func (r Repo) GrantPermission(ctx context.Context, tx *sql.Tx, collectionID, userID, perm string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO collection_permissions(collection_id, user_id, permission) VALUES (?,?,?)`, collectionID, userID, perm)
	return err
}

func (r Repo) RevokePermission(ctx context.Context, tx *sql.Tx, collectionID, userID, perm string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM collection_permissions WHERE collection_id=? AND user_id=? AND permission=?`, collectionID, userID, perm)
	return err
}

// Permissions returns the permission index for a collection keyed by user.
func (r Repo) Permissions(ctx context.Context, tx *sql.Tx, collectionID string) (map[string][]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT user_id, permission FROM collection_permissions WHERE collection_id=? ORDER BY user_id, permission`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var user, perm string
		if err := rows.Scan(&user, &perm); err != nil {
			return nil, err
		}
		out[user] = append(out[user], perm)
	}
	return out, rows.Err()
}

func (r Repo) InsertTaskConfig(ctx context.Context, tx *sql.Tx, collectionID string, t domain.TaskConfig) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO collection_tasks(collection_id, task_type, active, instruction, title) VALUES (?,?,?,?,?)`,
		collectionID, string(t.Type), boolInt(t.Active), nullable(t.Instruction), t.Title)
	return err
}

func (r Repo) UpdateTaskConfig(ctx context.Context, tx *sql.Tx, collectionID string, t domain.TaskConfig) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE collection_tasks SET active=?, instruction=?, title=? WHERE collection_id=? AND task_type=?`,
		boolInt(t.Active), nullable(t.Instruction), t.Title, collectionID, string(t.Type))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "task %s in collection %s", t.Type, collectionID)
	}
	return nil
}

func scanTaskConfig(row interface{ Scan(...any) error }) (domain.TaskConfig, error) {
	var t domain.TaskConfig
	var taskType string
	var active int
	err := row.Scan(&taskType, &active, &t.Instruction, &t.Title)
	t.Type = domain.TaskType(taskType)
	t.Active = active != 0
	return t, err
}

func (r Repo) GetTaskConfig(ctx context.Context, tx *sql.Tx, collectionID string, taskType domain.TaskType) (domain.TaskConfig, error) {
	t, err := scanTaskConfig(r.q(tx).QueryRowContext(ctx,
		`SELECT task_type, active, COALESCE(instruction,''), title FROM collection_tasks WHERE collection_id=? AND task_type=?`,
		collectionID, string(taskType)))
	return t, notFound(err, "task %s in collection %s", taskType, collectionID)
}

func (r Repo) ListTaskConfigs(ctx context.Context, tx *sql.Tx, collectionID string) ([]domain.TaskConfig, error) {
	b := queryBuilder().
		Select("task_type", "active", "COALESCE(instruction,'')", "title").
		From("collection_tasks").
		Where(squirrel.Eq{"collection_id": collectionID})
	return selectAll(ctx, r.q(tx), b, func(rows *sql.Rows) (domain.TaskConfig, error) { return scanTaskConfig(rows) })
}

// DeactivateAnnotationTasks switches off every *_annotation task of a collection.
func (r Repo) DeactivateAnnotationTasks(ctx context.Context, tx *sql.Tx, collectionID string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE collection_tasks SET active=0 WHERE collection_id=? AND task_type LIKE '%\_annotation' ESCAPE '\'`, collectionID)
	return err
}
