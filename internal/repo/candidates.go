package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"

	"docfish/internal/domain"
)

// CandidateQuery selects the targets a scope still owes work on.
type CandidateQuery struct {
	CollectionID string
	Kind         domain.TargetKind
	Task         domain.TaskKind
	Scope        domain.Scope
	Skip         []string
}

// coverageTable maps a task kind to the store holding its records.
func coverageTable(task domain.TaskKind) (string, error) {
	switch task {
	case domain.TaskAnnotation:
		return "annotations", nil
	case domain.TaskDescribe:
		return "descriptions", nil
	case domain.TaskMarkup:
		return "markups", nil
	}
	return "", errors.Wrapf(domain.ErrBadParameter, "unknown task kind %q", task)
}

// Candidates returns active targets of the requested kind in the collection
// that have no record from the scope in the task's store, in insertion order.
func (r Repo) Candidates(ctx context.Context, tx *sql.Tx, cq CandidateQuery) ([]domain.Target, error) {
	table, err := coverageTable(cq.Task)
	if err != nil {
		return nil, err
	}
	b := queryBuilder().
		Select(targetColumns).
		From("targets t").
		Join("collection_entities ce ON ce.entity_id = t.entity_id").
		Where(squirrel.Eq{"ce.collection_id": cq.CollectionID, "t.kind": string(cq.Kind), "t.active": 1}).
		Where(squirrel.Expr("NOT EXISTS (SELECT 1 FROM "+table+" r WHERE r.target_id = t.id AND r.scope_kind = ? AND r.scope_id = ?)",
			string(cq.Scope.Kind), cq.Scope.ID)).
		OrderBy("t.rowid")
	if len(cq.Skip) > 0 {
		b = b.Where(squirrel.NotEq{"t.id": cq.Skip})
	}
	return selectAll(ctx, r.q(tx), b, func(rows *sql.Rows) (domain.Target, error) { return scanTarget(rows) })
}
