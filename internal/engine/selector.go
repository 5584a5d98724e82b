package engine

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"docfish/internal/config"
	"docfish/internal/domain"
	"docfish/internal/engine/auth"
	"docfish/internal/repo"
)

// SelectRequest asks for work on one task type of a collection.
type SelectRequest struct {
	Actor        domain.Actor
	CollectionID string
	Task         domain.TaskKind
	Kind         domain.TargetKind
	// Skip excludes one target, typically the current target a team already holds.
	Skip string
}

func (r SelectRequest) taskType() domain.TaskType {
	return domain.NewTaskType(r.Kind, r.Task)
}

// SelectNext returns the first target the actor's scope has no record for in
// the task's store, or nil when every candidate is covered.
func (e Engine) SelectNext(ctx context.Context, req SelectRequest) (*domain.Target, error) {
	defer e.Metrics.ObserveSince("select_next", time.Now())
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ranked, err := e.candidates(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.Metrics.RecordSelection(string(req.taskType()), "single", len(ranked) > 0)
	if len(ranked) == 0 {
		return nil, nil
	}
	return &ranked[0], nil
}

// SelectPair returns the current target and the one after it from a single
// snapshot, so team members asking before anyone submits see the same pair.
func (e Engine) SelectPair(ctx context.Context, req SelectRequest) (domain.Assignment, error) {
	defer e.Metrics.ObserveSince("select_pair", time.Now())
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	ranked, err := e.candidates(ctx, tx, req)
	if err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	var out domain.Assignment
	if len(ranked) > 0 {
		out.Current = &ranked[0]
	}
	if len(ranked) > 1 {
		out.Next = &ranked[1]
	}
	e.Metrics.RecordSelection(string(req.taskType()), "pair", out.Current != nil)
	return out, nil
}

// candidates checks the gate and the task status, then returns the uncovered
// targets in selection order.
func (e Engine) candidates(ctx context.Context, tx *sql.Tx, req SelectRequest) ([]domain.Target, error) {
	kind, err := domain.ParseTargetKind(string(req.Kind))
	if err != nil {
		return nil, err
	}
	task, err := domain.ParseTaskKind(string(req.Task))
	if err != nil {
		return nil, err
	}
	req.Kind, req.Task = kind, task
	if _, err := e.authorize(ctx, tx, req.Actor, req.CollectionID, auth.PermAnnotate); err != nil {
		return nil, err
	}
	status, err := e.taskStatus(ctx, tx, req.CollectionID, req.taskType())
	if err != nil {
		return nil, err
	}
	if !status.Effective {
		return nil, errors.Wrapf(domain.ErrTaskInactive, "%s in collection %s", status.Type, req.CollectionID)
	}
	cq := repo.CandidateQuery{
		CollectionID: req.CollectionID,
		Kind:         kind,
		Task:         task,
		Scope:        req.Actor.Scope(),
	}
	if skip := strings.TrimSpace(req.Skip); skip != "" {
		cq.Skip = []string{skip}
	}
	targets, err := e.Repo.Candidates(ctx, tx, cq)
	if err != nil {
		return nil, err
	}
	sel := e.config().Selector
	if sel.Order == config.OrderShuffled {
		shuffle(targets, sel.Seed, cq.Scope, req.CollectionID, req.taskType())
	}
	return targets, nil
}

// shuffle orders targets by a keyed hash. The order depends only on the key
// and the target ids, so a scope sees a stable order while other scopes get
// unrelated ones.
func shuffle(targets []domain.Target, seed string, scope domain.Scope, collectionID string, tt domain.TaskType) {
	key := strings.Join([]string{seed, scope.String(), collectionID, string(tt)}, "\x00")
	rank := make(map[string]uint64, len(targets))
	for _, t := range targets {
		sum := sha256.Sum256([]byte(key + "\x00" + t.ID))
		rank[t.ID] = binary.BigEndian.Uint64(sum[:8])
	}
	slices.SortStableFunc(targets, func(a, b domain.Target) int {
		return cmp.Or(cmp.Compare(rank[a.ID], rank[b.ID]), cmp.Compare(a.ID, b.ID))
	})
}
