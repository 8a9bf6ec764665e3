package relay

import (
	"context"
	"strings"
)

// Field names of the records in the users topic.
const (
	FieldWalkieID    = "walkieId"
	FieldDisplayName = "displayName"
	FieldEmail       = "email"
)

// Profile is the public entry of a user in the directory.
type Profile struct {
	ID          string
	DisplayName string
	Email       string
}

// Directory maps CallIdentities to display names through the users topic of a
// relay.
type Directory struct {
	channel Channel
}

// NewDirectory ...
func NewDirectory(channel Channel) *Directory {
	return &Directory{channel: channel}
}

// Register publishes a profile, replacing any previous entry for the same
// identity.
func (d *Directory) Register(ctx context.Context, p Profile) error {
	existing, err := d.channel.QueryByField(ctx, UsersTopic, FieldWalkieID, p.ID)
	if err != nil {
		return err
	}

	for _, rec := range existing {
		if err := d.channel.Remove(ctx, UsersTopic, rec.Key); err != nil {
			return err
		}
	}

	_, err = d.channel.Push(ctx, UsersTopic, Fields{
		FieldWalkieID:    p.ID,
		FieldDisplayName: p.DisplayName,
		FieldEmail:       p.Email,
	})
	return err
}

// Lookup returns the profile registered for id. ok is false if there is none.
func (d *Directory) Lookup(ctx context.Context, id string) (Profile, bool, error) {
	recs, err := d.channel.QueryByField(ctx, UsersTopic, FieldWalkieID, id)
	if err != nil || len(recs) == 0 {
		return Profile{}, false, err
	}

	rec := recs[len(recs)-1]

	return Profile{
		ID:          id,
		DisplayName: rec.Fields[FieldDisplayName],
		Email:       rec.Fields[FieldEmail],
	}, true, nil
}

// DisplayName returns a human-friendly name for id: the registered display
// name, else the local part of the registered email, else the local part of id
// if it looks like an email, else id itself. The error is only informative; a
// usable name is always returned.
func (d *Directory) DisplayName(ctx context.Context, id string) (string, error) {
	p, ok, err := d.Lookup(ctx, id)
	if ok {
		if p.DisplayName != "" {
			return p.DisplayName, nil
		}
		if p.Email != "" {
			return localPart(p.Email), nil
		}
	}

	if strings.Contains(id, "@") {
		return localPart(id), err
	}

	return id, err
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}
