package engine

import (
	"context"
	"database/sql"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/hashicorp/go-set/v2"

	"docfish/internal/domain"
	"docfish/internal/engine/auth"
	"docfish/internal/events"
	"docfish/internal/repo"
)

type CollectionOptions struct {
	ID          string
	Name        string
	Description string
	Private     bool
}

// CreateCollection stores a collection owned by ownerID and seeds its task
// configuration. Annotation tasks start inactive since the vocabulary is empty.
func (e Engine) CreateCollection(ctx context.Context, ownerID string, opts CollectionOptions) (domain.Collection, error) {
	name, err := required("name", opts.Name)
	if err != nil {
		return domain.Collection{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Collection{}, err
	}
	defer tx.Rollback()

	owner, err := e.Repo.GetUser(ctx, tx, ownerID)
	if err != nil {
		return domain.Collection{}, err
	}
	now := e.stamp()
	c := domain.Collection{
		ID:           opts.ID,
		Name:         name,
		Description:  strings.TrimSpace(opts.Description),
		OwnerID:      owner.ID,
		Private:      opts.Private,
		Contributors: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := e.Repo.InsertCollection(ctx, tx, c); err != nil {
		return domain.Collection{}, err
	}
	for _, tt := range domain.TaskTypes {
		d := e.config().TaskDefaults(tt)
		cfg := domain.TaskConfig{Type: tt, Active: !tt.NeedsVocabulary(), Instruction: d.Instruction, Title: d.Title}
		if err := e.Repo.InsertTaskConfig(ctx, tx, c.ID, cfg); err != nil {
			return domain.Collection{}, errors.Wrapf(err, "seed task %s", tt)
		}
	}
	for _, perm := range []string{repo.PermEditCollection, repo.PermDeleteCollection} {
		if err := e.Repo.GrantPermission(ctx, tx, c.ID, owner.ID, perm); err != nil {
			return domain.Collection{}, err
		}
	}
	if err := e.appendEvent(ctx, tx, events.CollectionCreated, c.ID, "collection", c.ID, owner.ID, events.EventPayload{"name": c.Name, "private": c.Private}); err != nil {
		return domain.Collection{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Collection{}, err
	}
	e.log().Info("collection created", "collection", c.ID, "owner", owner.ID)
	return c, nil
}

// GetCollection returns a collection the viewer may see.
func (e Engine) GetCollection(ctx context.Context, viewerID, collectionID string) (domain.Collection, error) {
	return e.authorize(ctx, nil, domain.Individual(viewerID), collectionID, auth.PermView)
}

// ListCollections returns what the viewer may see; an empty viewer sees public collections.
func (e Engine) ListCollections(ctx context.Context, viewerID, ownerID string) ([]domain.Collection, error) {
	f := repo.CollectionFilter{OwnerID: ownerID, ViewerID: viewerID}
	if viewerID != "" {
		u, err := e.Repo.GetUser(ctx, nil, viewerID)
		if err != nil {
			return nil, err
		}
		f.ViewerInstitution = u.Institution
	}
	return e.Repo.ListCollections(ctx, f)
}

// SetContributors replaces the contributor set and keeps the permission index
// in step, in one transaction.
func (e Engine) SetContributors(ctx context.Context, actorID, collectionID string, userIDs []string) (domain.Collection, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Collection{}, err
	}
	defer tx.Rollback()

	c, err := e.authorize(ctx, tx, domain.Individual(actorID), collectionID, auth.PermDelete)
	if err != nil {
		return domain.Collection{}, err
	}
	next := set.New[string](len(userIDs))
	for _, id := range userIDs {
		if id = strings.TrimSpace(id); id != "" && id != c.OwnerID {
			next.Insert(id)
		}
	}
	if n, err := e.Repo.CountUsers(ctx, tx, next.Slice()); err != nil {
		return domain.Collection{}, err
	} else if n != next.Size() {
		return domain.Collection{}, errors.Wrap(domain.ErrNotFound, "unknown user in contributor list")
	}
	current := set.From(c.Contributors)
	added := next.Difference(current).(*set.Set[string]).Slice()
	removed := current.Difference(next).(*set.Set[string]).Slice()
	slices.Sort(added)
	slices.Sort(removed)
	now := e.stamp()
	for _, id := range added {
		if err := e.Repo.AddContributor(ctx, tx, c.ID, id, now); err != nil {
			return domain.Collection{}, err
		}
		if err := e.Repo.GrantPermission(ctx, tx, c.ID, id, repo.PermEditCollection); err != nil {
			return domain.Collection{}, err
		}
	}
	for _, id := range removed {
		if err := e.Repo.RemoveContributor(ctx, tx, c.ID, id); err != nil {
			return domain.Collection{}, err
		}
		if err := e.Repo.RevokePermission(ctx, tx, c.ID, id, repo.PermEditCollection); err != nil {
			return domain.Collection{}, err
		}
	}
	if len(added)+len(removed) > 0 {
		if err := e.Repo.TouchCollection(ctx, tx, c.ID, now); err != nil {
			return domain.Collection{}, err
		}
		if err := e.appendEvent(ctx, tx, events.ContributorsChanged, c.ID, "collection", c.ID, actorID, events.EventPayload{"added": added, "removed": removed}); err != nil {
			return domain.Collection{}, err
		}
	}
	out, err := e.Repo.GetCollection(ctx, tx, c.ID)
	if err != nil {
		return domain.Collection{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Collection{}, err
	}
	return out, nil
}

// PermissionIndex returns the stored per-user permissions of a collection.
func (e Engine) PermissionIndex(ctx context.Context, actorID, collectionID string) (map[string][]string, error) {
	if _, err := e.authorize(ctx, nil, domain.Individual(actorID), collectionID, auth.PermEdit); err != nil {
		return nil, err
	}
	return e.Repo.Permissions(ctx, nil, collectionID)
}

func (e Engine) SetPrivacy(ctx context.Context, actorID, collectionID string, private bool) (domain.Collection, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Collection{}, err
	}
	defer tx.Rollback()

	if _, err := e.authorize(ctx, tx, domain.Individual(actorID), collectionID, auth.PermDelete); err != nil {
		return domain.Collection{}, err
	}
	if err := e.Repo.SetCollectionPrivacy(ctx, tx, collectionID, private, e.stamp()); err != nil {
		return domain.Collection{}, err
	}
	if err := e.appendEvent(ctx, tx, events.CollectionUpdated, collectionID, "collection", collectionID, actorID, events.EventPayload{"private": private}); err != nil {
		return domain.Collection{}, err
	}
	c, err := e.Repo.GetCollection(ctx, tx, collectionID)
	if err != nil {
		return domain.Collection{}, err
	}
	return c, tx.Commit()
}

func (e Engine) DeleteCollection(ctx context.Context, actorID, collectionID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.authorize(ctx, tx, domain.Individual(actorID), collectionID, auth.PermDelete); err != nil {
		return err
	}
	if err := e.Repo.DeleteCollection(ctx, tx, collectionID); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.CollectionDeleted, collectionID, "collection", collectionID, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log().Info("collection deleted", "collection", collectionID, "actor", actorID)
	return nil
}

// taskStatuses joins stored task configs with what the collection can serve.
func (e Engine) taskStatuses(ctx context.Context, tx *sql.Tx, collectionID string) ([]domain.TaskStatus, error) {
	configs, err := e.Repo.ListTaskConfigs(ctx, tx, collectionID)
	if err != nil {
		return nil, err
	}
	byType := make(map[domain.TaskType]domain.TaskConfig, len(configs))
	for _, c := range configs {
		byType[c.Type] = c
	}
	counts, err := e.Repo.CountTargetsByKind(ctx, tx, collectionID)
	if err != nil {
		return nil, err
	}
	vocab, err := e.Repo.CountCollectionLabels(ctx, tx, collectionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TaskStatus, 0, len(domain.TaskTypes))
	for _, tt := range domain.TaskTypes {
		cfg, ok := byType[tt]
		if !ok {
			cfg = domain.TaskConfig{Type: tt, Title: e.config().TaskDefaults(tt).Title}
		}
		n := counts[tt.Target()]
		out = append(out, domain.TaskStatus{
			TaskConfig: cfg,
			Targets:    n,
			Effective:  cfg.Active && n > 0 && (!tt.NeedsVocabulary() || vocab > 0),
		})
	}
	return out, nil
}

func (e Engine) taskStatus(ctx context.Context, tx *sql.Tx, collectionID string, tt domain.TaskType) (domain.TaskStatus, error) {
	all, err := e.taskStatuses(ctx, tx, collectionID)
	if err != nil {
		return domain.TaskStatus{}, err
	}
	for _, s := range all {
		if s.Type == tt {
			return s, nil
		}
	}
	return domain.TaskStatus{}, errors.Wrapf(domain.ErrBadParameter, "unknown task type %q", tt)
}

// TaskBoard lists every task type with its effective status and the viewer's
// edit and delete rights.
func (e Engine) TaskBoard(ctx context.Context, viewerID, collectionID string) (domain.TaskBoard, error) {
	c, a, err := e.access(ctx, nil, collectionID)
	if err != nil {
		return domain.TaskBoard{}, err
	}
	s, err := e.subject(ctx, nil, domain.Individual(viewerID))
	if err != nil {
		return domain.TaskBoard{}, err
	}
	if err := auth.Check(auth.PermView, s, a); err != nil {
		e.Metrics.RecordDenial(auth.PermView)
		return domain.TaskBoard{}, err
	}
	tasks, err := e.taskStatuses(ctx, nil, c.ID)
	if err != nil {
		return domain.TaskBoard{}, err
	}
	return domain.TaskBoard{
		CollectionID: c.ID,
		Tasks:        tasks,
		CanEdit:      auth.CanEdit(s, a),
		CanDelete:    auth.CanDelete(s, a),
	}, nil
}

// SetTaskActive switches a task on or off. Annotation tasks cannot be
// activated while the vocabulary is empty.
func (e Engine) SetTaskActive(ctx context.Context, actorID, collectionID string, tt domain.TaskType, active bool) (domain.TaskStatus, error) {
	return e.updateTask(ctx, actorID, collectionID, tt, func(tx *sql.Tx, cfg *domain.TaskConfig) error {
		if active && tt.NeedsVocabulary() {
			n, err := e.Repo.CountCollectionLabels(ctx, tx, collectionID)
			if err != nil {
				return err
			}
			if n == 0 {
				return errors.Wrapf(domain.ErrBadParameter, "add labels to collection %s before activating %s", collectionID, tt)
			}
		}
		cfg.Active = active
		return nil
	})
}

func (e Engine) SetTaskInstruction(ctx context.Context, actorID, collectionID string, tt domain.TaskType, instruction string) (domain.TaskStatus, error) {
	return e.updateTask(ctx, actorID, collectionID, tt, func(_ *sql.Tx, cfg *domain.TaskConfig) error {
		cfg.Instruction = strings.TrimSpace(instruction)
		return nil
	})
}

func (e Engine) updateTask(ctx context.Context, actorID, collectionID string, tt domain.TaskType, mutate func(*sql.Tx, *domain.TaskConfig) error) (domain.TaskStatus, error) {
	if _, err := domain.ParseTaskType(string(tt)); err != nil {
		return domain.TaskStatus{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskStatus{}, err
	}
	defer tx.Rollback()

	if _, err := e.authorize(ctx, tx, domain.Individual(actorID), collectionID, auth.PermDelete); err != nil {
		return domain.TaskStatus{}, err
	}
	cfg, err := e.Repo.GetTaskConfig(ctx, tx, collectionID, tt)
	if err != nil {
		return domain.TaskStatus{}, err
	}
	if err := mutate(tx, &cfg); err != nil {
		return domain.TaskStatus{}, err
	}
	if err := e.Repo.UpdateTaskConfig(ctx, tx, collectionID, cfg); err != nil {
		return domain.TaskStatus{}, err
	}
	if err := e.appendEvent(ctx, tx, events.TaskConfigured, collectionID, "task", string(tt), actorID, events.EventPayload{
		"active":      cfg.Active,
		"instruction": cfg.Instruction,
	}); err != nil {
		return domain.TaskStatus{}, err
	}
	status, err := e.taskStatus(ctx, tx, collectionID, tt)
	if err != nil {
		return domain.TaskStatus{}, err
	}
	return status, tx.Commit()
}

// CreateEntity registers an entity that collections can later include.
func (e Engine) CreateEntity(ctx context.Context, actorID, uid, metadataJSON string) (domain.Entity, error) {
	uid, err := required("uid", uid)
	if err != nil {
		return domain.Entity{}, err
	}
	if err := validateJSON("metadata", metadataJSON); err != nil {
		return domain.Entity{}, err
	}
	if _, err := e.Repo.GetUser(ctx, nil, actorID); err != nil {
		return domain.Entity{}, err
	}
	ent := domain.Entity{ID: uuid.NewString(), UID: uid, MetadataJSON: metadataJSON, CreatedAt: e.stamp()}
	if err := e.Repo.InsertEntity(ctx, nil, ent); err != nil {
		return domain.Entity{}, err
	}
	return ent, nil
}

// AddEntity links an existing entity, and so its targets, into a collection.
func (e Engine) AddEntity(ctx context.Context, actorID, collectionID, entityID string) (domain.Entity, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Entity{}, err
	}
	defer tx.Rollback()

	if _, err := e.authorize(ctx, tx, domain.Individual(actorID), collectionID, auth.PermEdit); err != nil {
		return domain.Entity{}, err
	}
	ent, err := e.Repo.GetEntity(ctx, tx, entityID)
	if err != nil {
		return domain.Entity{}, err
	}
	linked, err := e.Repo.LinkEntity(ctx, tx, collectionID, ent.ID)
	if err != nil {
		return domain.Entity{}, err
	}
	if linked {
		if err := e.appendEvent(ctx, tx, events.EntityAdded, collectionID, "entity", ent.ID, actorID, events.EventPayload{"uid": ent.UID}); err != nil {
			return domain.Entity{}, err
		}
	}
	return ent, tx.Commit()
}

type TargetOptions struct {
	EntityID     string
	UID          string
	Kind         domain.TargetKind
	Source       domain.TargetSource
	Location     string
	MetadataJSON string
}

// AddTarget attaches an image or text to an entity. Content is stored as a
// reference only.
func (e Engine) AddTarget(ctx context.Context, actorID string, opts TargetOptions) (domain.Target, error) {
	uid, err := required("uid", opts.UID)
	if err != nil {
		return domain.Target{}, err
	}
	location, err := required("location", opts.Location)
	if err != nil {
		return domain.Target{}, err
	}
	kind, err := domain.ParseTargetKind(string(opts.Kind))
	if err != nil {
		return domain.Target{}, err
	}
	source, err := domain.ParseTargetSource(string(opts.Source))
	if err != nil {
		return domain.Target{}, err
	}
	if err := validateJSON("metadata", opts.MetadataJSON); err != nil {
		return domain.Target{}, err
	}
	if _, err := e.Repo.GetUser(ctx, nil, actorID); err != nil {
		return domain.Target{}, err
	}
	ent, err := e.Repo.GetEntity(ctx, nil, opts.EntityID)
	if err != nil {
		return domain.Target{}, err
	}
	t := domain.Target{
		ID:           uuid.NewString(),
		UID:          uid,
		Kind:         kind,
		EntityID:     ent.ID,
		Source:       source,
		Location:     location,
		Active:       true,
		MetadataJSON: opts.MetadataJSON,
		CreatedAt:    e.stamp(),
	}
	if err := e.Repo.InsertTarget(ctx, nil, t); err != nil {
		return domain.Target{}, err
	}
	return t, nil
}

// FlagTarget toggles whether a target is offered for work and listed publicly.
func (e Engine) FlagTarget(ctx context.Context, actorID, collectionID, targetID string, active bool) (domain.Target, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Target{}, err
	}
	defer tx.Rollback()

	if _, err := e.authorize(ctx, tx, domain.Individual(actorID), collectionID, auth.PermEdit); err != nil {
		return domain.Target{}, err
	}
	t, err := e.Repo.GetCollectionTarget(ctx, tx, collectionID, targetID)
	if err != nil {
		return domain.Target{}, err
	}
	if err := e.Repo.SetTargetActive(ctx, tx, t.ID, active); err != nil {
		return domain.Target{}, err
	}
	t.Active = active
	if err := e.appendEvent(ctx, tx, events.TargetFlagged, collectionID, "target", t.ID, actorID, events.EventPayload{"active": active}); err != nil {
		return domain.Target{}, err
	}
	return t, tx.Commit()
}

// ListEntities returns the entities of a collection the viewer may see.
func (e Engine) ListEntities(ctx context.Context, viewerID, collectionID string) ([]domain.Entity, error) {
	if err := e.CanView(ctx, viewerID, collectionID); err != nil {
		return nil, err
	}
	return e.Repo.ListEntities(ctx, collectionID)
}

// ListTargets returns a collection's targets. Flagged targets are only shown
// to viewers who can edit the collection.
func (e Engine) ListTargets(ctx context.Context, viewerID, collectionID string, kind domain.TargetKind) ([]domain.Target, error) {
	perms, err := e.Permissions(ctx, domain.Individual(viewerID), collectionID)
	if err != nil {
		return nil, err
	}
	if !perms[auth.PermView] {
		e.Metrics.RecordDenial(auth.PermView)
		return nil, auth.ForbiddenError{Permission: auth.PermView, Collection: collectionID}
	}
	return e.Repo.ListTargets(ctx, repo.TargetFilter{CollectionID: collectionID, Kind: kind, ActiveOnly: !perms[auth.PermEdit]})
}
