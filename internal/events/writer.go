package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	CollectionCreated   = "collection.created"
	CollectionUpdated   = "collection.updated"
	CollectionDeleted   = "collection.deleted"
	ContributorsChanged = "collection.contributors.changed"
	TaskConfigured      = "collection.task.configured"
	LabelAdded          = "collection.label.added"
	LabelRemoved        = "collection.label.removed"
	EntityAdded         = "collection.entity.added"
	TargetFlagged       = "target.flagged"
	AnnotationApplied   = "annotation.applied"
	AnnotationsCleared  = "annotation.cleared"
	MarkupSaved         = "markup.saved"
	DescriptionSaved    = "description.saved"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, collectionID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal event payload")
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,collection_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(collectionID), entityKind, nullable(entityID), actorID, string(data))
	return errors.Wrapf(err, "append event %s", evtType)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
