package model

import "github.com/google/uuid"

// Actor identifies who performed a mutating action: either a human user or
// the system itself (SAML provisioning, automatic lockout). Audit entries and
// assignment rows store the nil/non-nil user id, so automated and
// human-initiated actions are never confused.
type Actor struct {
	userID *uuid.UUID
}

// HumanActor returns an actor for the given user id.
func HumanActor(id uuid.UUID) Actor {
	return Actor{userID: &id}
}

// SystemActor returns the automated system actor.
func SystemActor() Actor {
	return Actor{}
}

// IsSystem reports whether the actor is the system.
func (a Actor) IsSystem() bool {
	return a.userID == nil
}

// UserID returns the acting user's id, or nil for the system actor.
func (a Actor) UserID() *uuid.UUID {
	if a.userID == nil {
		return nil
	}
	id := *a.userID
	return &id
}

func (a Actor) String() string {
	if a.userID == nil {
		return "system"
	}
	return a.userID.String()
}
