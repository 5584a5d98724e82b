package engine

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"docfish/internal/domain"
	"docfish/internal/repo"
)

func (e Engine) CreateUser(ctx context.Context, username, institution string) (domain.User, error) {
	username, err := required("username", username)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:          uuid.NewString(),
		Username:    username,
		Institution: strings.TrimSpace(institution),
		CreatedAt:   e.stamp(),
	}
	if err := e.Repo.InsertUser(ctx, nil, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// ResolveUser accepts a user id or a username.
func (e Engine) ResolveUser(ctx context.Context, ref string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, nil, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return e.Repo.GetUserByUsername(ctx, ref)
	}
	return u, err
}

// CreateTeam stores a team; its creator is its owner and first member.
func (e Engine) CreateTeam(ctx context.Context, ownerID, name string) (domain.Team, error) {
	name, err := required("name", name)
	if err != nil {
		return domain.Team{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetUser(ctx, tx, ownerID); err != nil {
		return domain.Team{}, err
	}
	now := e.stamp()
	t := domain.Team{ID: uuid.NewString(), Name: name, OwnerID: ownerID, Members: []string{ownerID}, CreatedAt: now}
	if err := e.Repo.InsertTeam(ctx, tx, t); err != nil {
		return domain.Team{}, err
	}
	if err := e.Repo.AddTeamMember(ctx, tx, t.ID, ownerID, now); err != nil {
		return domain.Team{}, err
	}
	return t, tx.Commit()
}

// AddTeamMember lets the team owner add a user.
func (e Engine) AddTeamMember(ctx context.Context, actorID, teamID, userID string) (domain.Team, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTeam(ctx, tx, teamID)
	if err != nil {
		return domain.Team{}, err
	}
	if t.OwnerID != actorID {
		return domain.Team{}, errors.Wrapf(domain.ErrPermissionDenied, "only the owner manages team %s", t.Name)
	}
	if _, err := e.Repo.GetUser(ctx, tx, userID); err != nil {
		return domain.Team{}, err
	}
	if err := e.Repo.AddTeamMember(ctx, tx, t.ID, userID, e.stamp()); err != nil {
		return domain.Team{}, err
	}
	if t, err = e.Repo.GetTeam(ctx, tx, teamID); err != nil {
		return domain.Team{}, err
	}
	return t, tx.Commit()
}

// RemoveTeamMember lets the owner remove anyone but themselves, and members
// leave on their own. Team records stay with the team.
func (e Engine) RemoveTeamMember(ctx context.Context, actorID, teamID, userID string) (domain.Team, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTeam(ctx, tx, teamID)
	if err != nil {
		return domain.Team{}, err
	}
	if actorID != t.OwnerID && actorID != userID {
		return domain.Team{}, errors.Wrapf(domain.ErrPermissionDenied, "only the owner manages team %s", t.Name)
	}
	if userID == t.OwnerID {
		return domain.Team{}, errors.Wrap(domain.ErrBadParameter, "team owner cannot leave the team")
	}
	removed, err := e.Repo.RemoveTeamMember(ctx, tx, t.ID, userID)
	if err != nil {
		return domain.Team{}, err
	}
	if !removed {
		return domain.Team{}, errors.Wrapf(domain.ErrNotFound, "user %s in team %s", userID, t.Name)
	}
	if t, err = e.Repo.GetTeam(ctx, tx, teamID); err != nil {
		return domain.Team{}, err
	}
	return t, tx.Commit()
}

// CreateAPIToken issues a token for userID. The plain token is only returned here.
func (e Engine) CreateAPIToken(ctx context.Context, userID, name string) (string, domain.APIToken, error) {
	if _, err := e.Repo.GetUser(ctx, nil, userID); err != nil {
		return "", domain.APIToken{}, err
	}
	plain := "dft_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	tok := domain.APIToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashToken(plain),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIToken(ctx, nil, tok); err != nil {
		return "", domain.APIToken{}, err
	}
	return plain, tok, nil
}
