package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"docfish/internal/domain"
	"docfish/internal/engine/auth"
	"docfish/internal/events"
)

// CreateLabel returns the catalog entry for (name, label), creating it once.
func (e Engine) CreateLabel(ctx context.Context, name, label string) (domain.Label, error) {
	name, err := required("name", name)
	if err != nil {
		return domain.Label{}, err
	}
	label, err = required("label", label)
	if err != nil {
		return domain.Label{}, err
	}
	return e.Repo.EnsureLabel(ctx, nil, uuid.NewString(), name, label)
}

func (e Engine) ListLabels(ctx context.Context) ([]domain.Label, error) {
	return e.Repo.ListLabels(ctx, nil, "")
}

// AddLabel puts a catalog label into the collection vocabulary.
func (e Engine) AddLabel(ctx context.Context, actorID, collectionID, labelID string) (domain.Label, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Label{}, err
	}
	defer tx.Rollback()

	if _, err := e.authorize(ctx, tx, domain.Individual(actorID), collectionID, auth.PermDelete); err != nil {
		return domain.Label{}, err
	}
	l, err := e.Repo.GetLabel(ctx, tx, labelID)
	if err != nil {
		return domain.Label{}, err
	}
	added, err := e.Repo.AddCollectionLabel(ctx, tx, collectionID, l.ID)
	if err != nil {
		return domain.Label{}, err
	}
	if added {
		if err := e.appendEvent(ctx, tx, events.LabelAdded, collectionID, "label", l.ID, actorID, events.EventPayload{"name": l.Name, "label": l.Label}); err != nil {
			return domain.Label{}, err
		}
	}
	return l, tx.Commit()
}

// RemoveLabel drops a label from the vocabulary. Removing the last one
// switches annotation tasks off. Existing records are kept.
func (e Engine) RemoveLabel(ctx context.Context, actorID, collectionID, labelID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.authorize(ctx, tx, domain.Individual(actorID), collectionID, auth.PermDelete); err != nil {
		return err
	}
	removed, err := e.Repo.RemoveCollectionLabel(ctx, tx, collectionID, labelID)
	if err != nil {
		return err
	}
	if !removed {
		return errors.Wrapf(domain.ErrNotFound, "label %s in collection %s", labelID, collectionID)
	}
	left, err := e.Repo.CountCollectionLabels(ctx, tx, collectionID)
	if err != nil {
		return err
	}
	if left == 0 {
		if err := e.Repo.DeactivateAnnotationTasks(ctx, tx, collectionID); err != nil {
			return err
		}
		e.log().Info("vocabulary empty, annotation tasks deactivated", "collection", collectionID)
	}
	if err := e.appendEvent(ctx, tx, events.LabelRemoved, collectionID, "label", labelID, actorID, events.EventPayload{"remaining": left}); err != nil {
		return err
	}
	return tx.Commit()
}

// Vocabulary groups a collection's labels by name.
func (e Engine) Vocabulary(ctx context.Context, viewerID, collectionID string) (map[string][]string, error) {
	labels, err := e.CollectionLabels(ctx, viewerID, collectionID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, l := range labels {
		out[l.Name] = append(out[l.Name], l.Label)
	}
	return out, nil
}

func (e Engine) CollectionLabels(ctx context.Context, viewerID, collectionID string) ([]domain.Label, error) {
	if err := e.CanView(ctx, viewerID, collectionID); err != nil {
		return nil, err
	}
	return e.Repo.ListLabels(ctx, nil, collectionID)
}
