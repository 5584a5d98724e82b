package auth_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docfish/internal/domain"
	"docfish/internal/engine/auth"
)

func TestGateDecisions(t *testing.T) {
	private := auth.Access{CollectionID: "c1", OwnerID: "owner", OwnerInstitution: "stanford", Private: true, Contributors: []string{"contrib"}}
	public := private
	public.Private = false

	owner := auth.Subject{UserID: "owner", Institution: "stanford"}
	contrib := auth.Subject{UserID: "contrib"}
	colleague := auth.Subject{UserID: "colleague", Institution: "stanford"}
	stranger := auth.Subject{UserID: "stranger", Institution: "mit"}
	blank := auth.Subject{UserID: "blank"}
	anon := auth.Subject{}

	cases := []struct {
		name                         string
		subject                      auth.Subject
		access                       auth.Access
		view, edit, annotate, delete bool
	}{
		{"owner private", owner, private, true, true, true, true},
		{"contributor private", contrib, private, true, true, true, false},
		{"same institution private", colleague, private, true, false, true, false},
		{"stranger private", stranger, private, false, false, false, false},
		{"stranger public", stranger, public, true, false, true, false},
		{"blank institution private", blank, private, false, false, false, false},
		{"anonymous public", anon, public, true, false, false, false},
		{"anonymous private", anon, private, false, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.view, auth.CanView(tc.subject, tc.access), "view")
			assert.Equal(t, tc.edit, auth.CanEdit(tc.subject, tc.access), "edit")
			assert.Equal(t, tc.annotate, auth.CanAnnotate(tc.subject, tc.access), "annotate")
			assert.Equal(t, tc.delete, auth.CanDelete(tc.subject, tc.access), "delete")
		})
	}
}

func TestCanAnnotateRequiresTeamMembership(t *testing.T) {
	public := auth.Access{OwnerID: "owner"}
	assert.True(t, auth.CanAnnotate(auth.Subject{UserID: "u", TeamID: "t", TeamMember: true}, public))
	assert.False(t, auth.CanAnnotate(auth.Subject{UserID: "u", TeamID: "t"}, public))
	// even the owner needs membership to write for a team
	assert.False(t, auth.CanAnnotate(auth.Subject{UserID: "owner", TeamID: "t"}, public))
}

func TestCheckReturnsPermissionDenied(t *testing.T) {
	a := auth.Access{CollectionID: "c1", OwnerID: "owner", Private: true}
	require.NoError(t, auth.Check(auth.PermDelete, auth.Subject{UserID: "owner"}, a))

	err := auth.Check(auth.PermEdit, auth.Subject{UserID: "someone"}, a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, auth.PermEdit, fe.Permission)

	err = auth.Check("launch", auth.Subject{UserID: "owner"}, a)
	assert.True(t, errors.Is(err, domain.ErrBadParameter))
}
