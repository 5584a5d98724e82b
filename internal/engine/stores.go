package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"docfish/internal/domain"
	"docfish/internal/events"
)

// UpsertMarkup replaces the scope's markup on a target. The payload variant
// must match the target kind. An image markup without a base path reuses the
// base already recorded for the target, if any.
func (e Engine) UpsertMarkup(ctx context.Context, actor domain.Actor, collectionID, targetID string, payload domain.MarkupPayload) (domain.MarkupRecord, error) {
	defer e.Metrics.ObserveSince("upsert_markup", time.Now())
	kind, err := payload.Kind()
	if err != nil {
		return domain.MarkupRecord{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MarkupRecord{}, err
	}
	defer tx.Rollback()

	t, err := e.annotatable(ctx, tx, actor, collectionID, targetID)
	if err != nil {
		return domain.MarkupRecord{}, err
	}
	if t.Kind != kind {
		return domain.MarkupRecord{}, errors.Wrapf(domain.ErrBadParameter, "%s markup given for %s target %s", kind, t.Kind, t.ID)
	}

	scope := actor.Scope()
	now := e.stamp()
	rec := domain.MarkupRecord{
		ID:           uuid.NewString(),
		Scope:        scope,
		CreatedBy:    actor.UserID,
		TargetID:     t.ID,
		CollectionID: collectionID,
		Kind:         kind,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	switch kind {
	case domain.TargetImage:
		img := *payload.Image
		if img.BasePath == "" {
			if img.BasePath, err = e.Repo.ImageBase(ctx, tx, t.ID); err != nil {
				return domain.MarkupRecord{}, err
			}
		}
		rec.Image = &img
	case domain.TargetText:
		txt := *payload.Text
		if txt.Delimiter == "" {
			txt.Delimiter = domain.DefaultDelimiter
		}
		if txt.Spans == nil {
			txt.Spans = []domain.Span{}
		}
		rec.Text = &txt
	}
	if err := e.Repo.UpsertMarkup(ctx, tx, rec); err != nil {
		return domain.MarkupRecord{}, err
	}
	stored, err := e.Repo.GetMarkup(ctx, tx, scope, t.ID)
	if err != nil {
		return domain.MarkupRecord{}, err
	}
	if err := e.appendEvent(ctx, tx, events.MarkupSaved, collectionID, "target", t.ID, actor.UserID, events.EventPayload{"scope": scope.String(), "kind": kind}); err != nil {
		return domain.MarkupRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MarkupRecord{}, err
	}
	e.Metrics.RecordUpsert("markup", string(kind), string(scope.Kind))
	return stored, nil
}

// GetMarkup returns the scope's markup on a target, or nil when there is none.
func (e Engine) GetMarkup(ctx context.Context, actor domain.Actor, collectionID, targetID string) (*domain.MarkupRecord, error) {
	if err := e.readable(ctx, actor, collectionID, targetID); err != nil {
		return nil, err
	}
	m, err := e.Repo.GetMarkup(ctx, nil, actor.Scope(), targetID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertDescription replaces the scope's free-text description of a target.
func (e Engine) UpsertDescription(ctx context.Context, actor domain.Actor, collectionID, targetID, body string) (domain.DescriptionRecord, error) {
	defer e.Metrics.ObserveSince("upsert_description", time.Now())
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DescriptionRecord{}, err
	}
	defer tx.Rollback()

	t, err := e.annotatable(ctx, tx, actor, collectionID, targetID)
	if err != nil {
		return domain.DescriptionRecord{}, err
	}
	scope := actor.Scope()
	now := e.stamp()
	if err := e.Repo.UpsertDescription(ctx, tx, domain.DescriptionRecord{
		ID:           uuid.NewString(),
		Scope:        scope,
		CreatedBy:    actor.UserID,
		TargetID:     t.ID,
		CollectionID: collectionID,
		Body:         body,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return domain.DescriptionRecord{}, err
	}
	stored, err := e.Repo.GetDescription(ctx, tx, scope, t.ID)
	if err != nil {
		return domain.DescriptionRecord{}, err
	}
	if err := e.appendEvent(ctx, tx, events.DescriptionSaved, collectionID, "target", t.ID, actor.UserID, events.EventPayload{"scope": scope.String(), "length": len(body)}); err != nil {
		return domain.DescriptionRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DescriptionRecord{}, err
	}
	e.Metrics.RecordUpsert("description", string(t.Kind), string(scope.Kind))
	return stored, nil
}

// GetDescription returns the scope's description of a target, or nil.
func (e Engine) GetDescription(ctx context.Context, actor domain.Actor, collectionID, targetID string) (*domain.DescriptionRecord, error) {
	if err := e.readable(ctx, actor, collectionID, targetID); err != nil {
		return nil, err
	}
	d, err := e.Repo.GetDescription(ctx, nil, actor.Scope(), targetID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (e Engine) ListMarkups(ctx context.Context, viewerID, collectionID, targetID string, scope *domain.Scope) ([]domain.MarkupRecord, error) {
	if err := e.CanView(ctx, viewerID, collectionID); err != nil {
		return nil, err
	}
	return e.Repo.ListMarkups(ctx, nil, recordFilter(collectionID, targetID, scope))
}

func (e Engine) ListDescriptions(ctx context.Context, viewerID, collectionID, targetID string, scope *domain.Scope) ([]domain.DescriptionRecord, error) {
	if err := e.CanView(ctx, viewerID, collectionID); err != nil {
		return nil, err
	}
	return e.Repo.ListDescriptions(ctx, nil, recordFilter(collectionID, targetID, scope))
}
