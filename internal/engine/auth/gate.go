// Package auth decides what a user may do with a collection. The decisions
// are pure: callers load an Access snapshot and a Subject and ask.
package auth

import (
	"fmt"
	"slices"

	"github.com/cockroachdb/errors"

	"docfish/internal/domain"
)

const (
	PermView     = "view"
	PermEdit     = "edit"
	PermAnnotate = "annotate"
	PermDelete   = "delete"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
	Collection string
}

func (e ForbiddenError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("permission %s required on collection %s", e.Permission, e.Collection)
}

// Unwrap makes errors.Is(err, domain.ErrPermissionDenied) hold.
func (e ForbiddenError) Unwrap() error {
	return domain.ErrPermissionDenied
}

// Access is what the gate needs to know about a collection.
type Access struct {
	CollectionID     string
	OwnerID          string
	OwnerInstitution string
	Private          bool
	Contributors     []string
}

// Subject is the requesting user. TeamID is set when acting for a team;
// TeamMember says whether UserID belongs to it.
type Subject struct {
	UserID      string
	Institution string
	TeamID      string
	TeamMember  bool
}

func (s Subject) anonymous() bool { return s.UserID == "" }

func (a Access) owner(s Subject) bool {
	return !s.anonymous() && s.UserID == a.OwnerID
}

func (a Access) contributor(s Subject) bool {
	return !s.anonymous() && slices.Contains(a.Contributors, s.UserID)
}

// sameInstitution compares affiliations as opaque strings; blank never matches.
func (a Access) sameInstitution(s Subject) bool {
	return !s.anonymous() && s.Institution != "" && s.Institution == a.OwnerInstitution
}

func CanView(s Subject, a Access) bool {
	return !a.Private || a.owner(s) || a.contributor(s) || a.sameInstitution(s)
}

func CanEdit(s Subject, a Access) bool {
	return a.owner(s) || a.contributor(s)
}

// CanAnnotate requires team membership when a team is given, then applies
// the collection rules to the user.
func CanAnnotate(s Subject, a Access) bool {
	if s.anonymous() {
		return false
	}
	if s.TeamID != "" && !s.TeamMember {
		return false
	}
	if a.owner(s) {
		return true
	}
	return !a.Private || a.contributor(s) || a.sameInstitution(s)
}

func CanDelete(s Subject, a Access) bool {
	return a.owner(s)
}

// Check returns a ForbiddenError when s lacks perm on a.
func Check(perm string, s Subject, a Access) error {
	var ok bool
	switch perm {
	case PermView:
		ok = CanView(s, a)
	case PermEdit:
		ok = CanEdit(s, a)
	case PermAnnotate:
		ok = CanAnnotate(s, a)
	case PermDelete:
		ok = CanDelete(s, a)
	default:
		return errors.Wrapf(domain.ErrBadParameter, "unknown permission %q", perm)
	}
	if !ok {
		return ForbiddenError{Permission: perm, Collection: a.CollectionID}
	}
	return nil
}
