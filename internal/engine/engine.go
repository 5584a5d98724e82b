package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"docfish/internal/config"
	"docfish/internal/domain"
	"docfish/internal/engine/auth"
	"docfish/internal/events"
	"docfish/internal/metrics"
	"docfish/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.EngineMetrics
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// appendEvent writes through the engine clock so events share record timestamps.
func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, collectionID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, collectionID, entityKind, entityID, actorID, payload)
}

// access loads a collection and the snapshot the permission gate decides on.
func (e Engine) access(ctx context.Context, tx *sql.Tx, collectionID string) (domain.Collection, auth.Access, error) {
	c, err := e.Repo.GetCollection(ctx, tx, collectionID)
	if err != nil {
		return c, auth.Access{}, err
	}
	owner, err := e.Repo.GetUser(ctx, tx, c.OwnerID)
	if err != nil {
		return c, auth.Access{}, errors.Wrapf(err, "owner of collection %s", c.ID)
	}
	return c, auth.Access{
		CollectionID:     c.ID,
		OwnerID:          c.OwnerID,
		OwnerInstitution: owner.Institution,
		Private:          c.Private,
		Contributors:     c.Contributors,
	}, nil
}

// subject resolves an actor against stored users and teams. An empty user is
// anonymous and only ever passes the view check on public collections.
func (e Engine) subject(ctx context.Context, tx *sql.Tx, actor domain.Actor) (auth.Subject, error) {
	if actor.UserID == "" {
		if actor.IsTeam() {
			return auth.Subject{}, errors.Wrap(domain.ErrUnauthenticated, "team work needs a user")
		}
		return auth.Subject{}, nil
	}
	u, err := e.Repo.GetUser(ctx, tx, actor.UserID)
	if err != nil {
		return auth.Subject{}, err
	}
	s := auth.Subject{UserID: u.ID, Institution: u.Institution}
	if actor.IsTeam() {
		if _, err := e.Repo.GetTeam(ctx, tx, actor.TeamID); err != nil {
			return auth.Subject{}, err
		}
		member, err := e.Repo.IsTeamMember(ctx, tx, actor.TeamID, u.ID)
		if err != nil {
			return auth.Subject{}, err
		}
		s.TeamID = actor.TeamID
		s.TeamMember = member
	}
	return s, nil
}

// authorize loads the collection, resolves the actor and runs the gate.
func (e Engine) authorize(ctx context.Context, tx *sql.Tx, actor domain.Actor, collectionID, perm string) (domain.Collection, error) {
	c, a, err := e.access(ctx, tx, collectionID)
	if err != nil {
		return c, err
	}
	s, err := e.subject(ctx, tx, actor)
	if err != nil {
		return c, err
	}
	if err := auth.Check(perm, s, a); err != nil {
		e.Metrics.RecordDenial(perm)
		e.log().Debug("permission denied", "permission", perm, "collection", collectionID, "user", actor.UserID, "team", actor.TeamID)
		return c, err
	}
	return c, nil
}

// Permissions reports the gate's answers for a viewer, who may be anonymous.
func (e Engine) Permissions(ctx context.Context, actor domain.Actor, collectionID string) (map[string]bool, error) {
	_, a, err := e.access(ctx, nil, collectionID)
	if err != nil {
		return nil, err
	}
	s, err := e.subject(ctx, nil, actor)
	if err != nil {
		return nil, err
	}
	return map[string]bool{
		auth.PermView:     auth.CanView(s, a),
		auth.PermEdit:     auth.CanEdit(s, a),
		auth.PermAnnotate: auth.CanAnnotate(s, a),
		auth.PermDelete:   auth.CanDelete(s, a),
	}, nil
}

// CanView is the read gate used by listing surfaces.
func (e Engine) CanView(ctx context.Context, viewerID, collectionID string) error {
	_, err := e.authorize(ctx, nil, domain.Individual(viewerID), collectionID, auth.PermView)
	return err
}

func validateJSON(field, in string) error {
	if in == "" {
		return nil
	}
	if !json.Valid([]byte(in)) {
		return errors.Wrapf(domain.ErrBadParameter, "%s must be valid JSON", field)
	}
	return nil
}

func required(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errors.Wrapf(domain.ErrBadParameter, "%s is required", field)
	}
	return v, nil
}
