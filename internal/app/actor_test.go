package app

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docfish/internal/domain"
)

func TestResolveActor(t *testing.T) {
	ws, err := OpenWorkspace(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	e, err := ws.Engine(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	alice, err := e.CreateUser(ctx, "alice", "")
	require.NoError(t, err)
	bob, err := e.CreateUser(ctx, "bob", "")
	require.NoError(t, err)
	team, err := e.CreateTeam(ctx, alice.ID, "radiology")
	require.NoError(t, err)

	a, err := ResolveActor(ctx, e.Repo, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, domain.Individual(alice.ID), a)

	a, err = ResolveActor(ctx, e.Repo, alice.ID, "radiology")
	require.NoError(t, err)
	assert.True(t, a.IsTeam())
	assert.Equal(t, domain.Scope{Kind: domain.ScopeTeam, ID: team.ID}, a.Scope())

	_, err = ResolveActor(ctx, e.Repo, "bob", team.ID)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied), "bob is not a member yet")

	_, err = e.AddTeamMember(ctx, alice.ID, team.ID, bob.ID)
	require.NoError(t, err)
	a, err = ResolveActor(ctx, e.Repo, "bob", "radiology")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, a.UserID)

	_, err = ResolveActor(ctx, e.Repo, " ", "")
	assert.True(t, errors.Is(err, domain.ErrUnauthenticated))

	_, err = ResolveActor(ctx, e.Repo, "carol", "")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
