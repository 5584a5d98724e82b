package app

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"docfish/internal/domain"
	"docfish/internal/repo"
)

// ResolveActor turns a user and optional team reference, each an id or a
// name, into an Actor. The user must belong to the team.
func ResolveActor(ctx context.Context, r repo.Repo, userRef, teamRef string) (domain.Actor, error) {
	userRef, teamRef = strings.TrimSpace(userRef), strings.TrimSpace(teamRef)
	if userRef == "" {
		return domain.Actor{}, errors.Wrap(domain.ErrUnauthenticated, "no acting user; pass --as")
	}
	u, err := r.GetUser(ctx, nil, userRef)
	if errors.Is(err, domain.ErrNotFound) {
		u, err = r.GetUserByUsername(ctx, userRef)
	}
	if err != nil {
		return domain.Actor{}, err
	}
	if teamRef == "" {
		return domain.Individual(u.ID), nil
	}
	t, err := r.GetTeam(ctx, nil, teamRef)
	if errors.Is(err, domain.ErrNotFound) {
		t, err = r.GetTeamByName(ctx, teamRef)
	}
	if err != nil {
		return domain.Actor{}, err
	}
	member, err := r.IsTeamMember(ctx, nil, t.ID, u.ID)
	if err != nil {
		return domain.Actor{}, err
	}
	if !member {
		return domain.Actor{}, errors.Wrapf(domain.ErrPermissionDenied, "%s is not a member of team %s", u.Username, t.Name)
	}
	return domain.TeamActor(u.ID, t.ID), nil
}
