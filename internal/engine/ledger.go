package engine

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/hashicorp/go-set/v2"

	"docfish/internal/domain"
	"docfish/internal/engine/auth"
	"docfish/internal/events"
	"docfish/internal/repo"
)

// Selection picks one label for a name, with optional coordinates.
type Selection struct {
	Name            string `json:"name"`
	Label           string `json:"label"`
	CoordinatesJSON string `json:"coordinates_json,omitempty"`
}

// Apply records label for the actor's scope on a target. Any other label the
// scope held for the same name is removed first. Applying the current label
// again leaves the record as it was.
func (e Engine) Apply(ctx context.Context, actor domain.Actor, collectionID, targetID string, sel Selection) (domain.AnnotationRecord, error) {
	recs, err := e.ApplyMany(ctx, actor, collectionID, targetID, []Selection{sel})
	if err != nil {
		return domain.AnnotationRecord{}, err
	}
	return recs[0], nil
}

// ApplyMany validates every selection before writing any of them, then
// applies them in one transaction. Names must not repeat.
func (e Engine) ApplyMany(ctx context.Context, actor domain.Actor, collectionID, targetID string, sels []Selection) ([]domain.AnnotationRecord, error) {
	defer e.Metrics.ObserveSince("apply", time.Now())
	if len(sels) == 0 {
		return nil, errors.Wrap(domain.ErrBadParameter, "no labels given")
	}
	sels = slices.Clone(sels)
	names := set.New[string](len(sels))
	for i := range sels {
		sels[i].Name = strings.TrimSpace(sels[i].Name)
		sels[i].Label = strings.TrimSpace(sels[i].Label)
		if !names.Insert(sels[i].Name) {
			return nil, errors.Wrapf(domain.ErrBadParameter, "label name %q given twice", sels[i].Name)
		}
		if err := validateJSON("coordinates", sels[i].CoordinatesJSON); err != nil {
			return nil, err
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := e.annotatable(ctx, tx, actor, collectionID, targetID); err != nil {
		return nil, err
	}
	labels, err := e.vocabularyLabels(ctx, tx, collectionID, sels)
	if err != nil {
		return nil, err
	}

	scope := actor.Scope()
	now := e.stamp()
	out := make([]domain.AnnotationRecord, 0, len(sels))
	for i, sel := range sels {
		l := labels[i]
		superseded, err := e.Repo.DeleteSupersededAnnotations(ctx, tx, scope, targetID, l.Name, l.ID)
		if err != nil {
			return nil, errors.Wrap(err, "supersede annotations")
		}
		changed, err := e.Repo.InsertAnnotation(ctx, tx, domain.AnnotationRecord{
			ID:              uuid.NewString(),
			Scope:           scope,
			CreatedBy:       actor.UserID,
			TargetID:        targetID,
			CollectionID:    collectionID,
			LabelID:         l.ID,
			Name:            l.Name,
			Label:           l.Label,
			CoordinatesJSON: sel.CoordinatesJSON,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return nil, err
		}
		rec, err := e.Repo.GetAnnotation(ctx, tx, scope, targetID, l.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)

		outcome := "unchanged"
		switch {
		case superseded > 0:
			outcome = "superseded"
			e.log().Info("annotation superseded", "scope", scope.String(), "target", targetID, "name", l.Name, "label", l.Label, "removed", superseded)
		case changed:
			outcome = "written"
		}
		e.Metrics.RecordApply(string(scope.Kind), outcome)
		if outcome == "unchanged" {
			continue
		}
		if err := e.appendEvent(ctx, tx, events.AnnotationApplied, collectionID, "target", targetID, actor.UserID, events.EventPayload{
			"scope":      scope.String(),
			"name":       l.Name,
			"label":      l.Label,
			"superseded": superseded,
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// annotatable checks the target is an active member of the collection and the
// actor may write to it.
func (e Engine) annotatable(ctx context.Context, tx *sql.Tx, actor domain.Actor, collectionID, targetID string) (domain.Target, error) {
	t, err := e.Repo.GetCollectionTarget(ctx, tx, collectionID, targetID)
	if err != nil {
		return domain.Target{}, err
	}
	if _, err := e.authorize(ctx, tx, actor, collectionID, auth.PermAnnotate); err != nil {
		return domain.Target{}, err
	}
	if !t.Active {
		return domain.Target{}, errors.Wrapf(domain.ErrBadParameter, "target %s is flagged", t.ID)
	}
	return t, nil
}

// vocabularyLabels resolves each selection to a label in the collection
// vocabulary, in order.
func (e Engine) vocabularyLabels(ctx context.Context, tx *sql.Tx, collectionID string, sels []Selection) ([]domain.Label, error) {
	n, err := e.Repo.CountCollectionLabels(ctx, tx, collectionID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.Wrapf(domain.ErrInvalidLabel, "collection %s has no vocabulary", collectionID)
	}
	out := make([]domain.Label, 0, len(sels))
	for _, sel := range sels {
		l, err := e.Repo.FindLabel(ctx, tx, sel.Name, sel.Label)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errors.Wrapf(domain.ErrInvalidLabel, "%s:%s is not a known label", sel.Name, sel.Label)
		}
		if err != nil {
			return nil, err
		}
		ok, err := e.Repo.CollectionHasLabel(ctx, tx, collectionID, l.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrapf(domain.ErrInvalidLabel, "%s:%s is not in the vocabulary of collection %s", sel.Name, sel.Label, collectionID)
		}
		out = append(out, l)
	}
	return out, nil
}

// Clear removes every annotation the actor's scope holds on a target. Lookup
// and permission failures are returned; a failing delete is logged and
// reported as false.
func (e Engine) Clear(ctx context.Context, actor domain.Actor, collectionID, targetID string) (bool, error) {
	defer e.Metrics.ObserveSince("clear", time.Now())
	scope := actor.Scope()
	if _, err := e.Repo.GetCollectionTarget(ctx, nil, collectionID, targetID); err != nil {
		return false, err
	}
	if _, err := e.authorize(ctx, nil, actor, collectionID, auth.PermAnnotate); err != nil {
		return false, err
	}

	fail := func(err error) (bool, error) {
		e.log().Warn("clear annotations failed", "scope", scope.String(), "target", targetID, "error", err)
		e.Metrics.RecordClear(string(scope.Kind), false)
		return false, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback()
	n, err := e.Repo.DeleteScopeAnnotations(ctx, tx, scope, targetID)
	if err != nil {
		return fail(err)
	}
	if n > 0 {
		if err := e.appendEvent(ctx, tx, events.AnnotationsCleared, collectionID, "target", targetID, actor.UserID, events.EventPayload{"scope": scope.String(), "removed": n}); err != nil {
			return fail(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	e.Metrics.RecordClear(string(scope.Kind), true)
	return true, nil
}

// Summarize returns the scope's current label per name and, per name, how
// many scopes recorded it for this target. Records belong to the target, so
// labels made through another collection sharing the entity count here too.
func (e Engine) Summarize(ctx context.Context, actor domain.Actor, collectionID, targetID string) (domain.Summary, error) {
	if err := e.readable(ctx, actor, collectionID, targetID); err != nil {
		return domain.Summary{}, err
	}
	scope := actor.Scope()
	recs, err := e.Repo.ListAnnotations(ctx, nil, recordFilter("", targetID, &scope))
	if err != nil {
		return domain.Summary{}, err
	}
	counts, err := e.Repo.CountScopesByName(ctx, nil, targetID)
	if err != nil {
		return domain.Summary{}, err
	}
	sum := domain.Summary{Labels: make(map[string]string, len(recs)), Counts: counts}
	for _, r := range recs {
		sum.Labels[r.Name] = r.Label
	}
	return sum, nil
}

// readable checks the viewer may see the collection and, for team scopes,
// belongs to the team.
func (e Engine) readable(ctx context.Context, actor domain.Actor, collectionID, targetID string) error {
	c, a, err := e.access(ctx, nil, collectionID)
	if err != nil {
		return err
	}
	if _, err := e.Repo.GetCollectionTarget(ctx, nil, c.ID, targetID); err != nil {
		return err
	}
	s, err := e.subject(ctx, nil, actor)
	if err != nil {
		return err
	}
	if err := auth.Check(auth.PermView, s, a); err != nil {
		e.Metrics.RecordDenial(auth.PermView)
		return err
	}
	if s.UserID == "" {
		return errors.Wrap(domain.ErrUnauthenticated, "records are per user or team")
	}
	if s.TeamID != "" && !s.TeamMember {
		e.Metrics.RecordDenial(auth.PermAnnotate)
		return auth.ForbiddenError{Permission: auth.PermAnnotate, Collection: c.ID}
	}
	return nil
}

// ListAnnotations returns the annotation records on a collection's targets. Scope narrows to
// one owner; targetID narrows to one target.
func (e Engine) ListAnnotations(ctx context.Context, viewerID, collectionID, targetID string, scope *domain.Scope) ([]domain.AnnotationRecord, error) {
	if err := e.CanView(ctx, viewerID, collectionID); err != nil {
		return nil, err
	}
	return e.Repo.ListAnnotations(ctx, nil, recordFilter(collectionID, targetID, scope))
}

func recordFilter(collectionID, targetID string, scope *domain.Scope) repo.RecordFilter {
	return repo.RecordFilter{CollectionID: collectionID, TargetID: targetID, Scope: scope}
}
