package models

import (
	"encoding/json"
	"errors"
	"strings"
)

// LocationType is the level of a location in the property → room → spot hierarchy.
type LocationType string

const (
	LocationProperty LocationType = "property"
	LocationRoom     LocationType = "room"
	LocationSpot     LocationType = "spot"
)

// Valid reports whether t is a known level.
func (t LocationType) Valid() bool {
	switch t {
	case LocationProperty, LocationRoom, LocationSpot:
		return true
	}
	return false
}

// ParentType returns the level a location of type t must hang under.
// Properties are roots and return "".
func (t LocationType) ParentType() LocationType {
	switch t {
	case LocationRoom:
		return LocationProperty
	case LocationSpot:
		return LocationRoom
	}
	return ""
}

// Location is a place items are kept.
type Location struct {
	ID         string       `db:"id" json:"id"`
	Name       string       `db:"name" json:"name"`
	Type       LocationType `db:"type" json:"type"`
	ParentID   string       `db:"parent_id" json:"parent_id,omitempty"`
	RemoteID   string       `db:"remote_id" json:"remote_id,omitempty"`
	IsDeleted  bool         `db:"is_deleted" json:"-"`
	CreatedAt  int64        `db:"created_at" json:"created_at"`
	UpdatedAt  int64        `db:"updated_at" json:"updated_at"`
	SyncStatus SyncStatus   `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for Location.
func (Location) TableName() string {
	return TableLocations.String()
}

// Validate checks name, type and that only properties are parentless.
func (l *Location) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return errors.New("name is required")
	}
	if !l.Type.Valid() {
		return errors.New("type must be property, room or spot")
	}
	if l.Type == LocationProperty && l.ParentID != "" {
		return errors.New("a property cannot have a parent")
	}
	if l.Type != LocationProperty && l.ParentID == "" {
		return errors.New(string(l.Type) + " requires a parent_id")
	}
	return nil
}

// Payload returns the field set sent to the remote service on create.
func (l *Location) Payload() (json.RawMessage, error) {
	return json.Marshal(map[string]interface{}{
		"id":        l.ID,
		"name":      l.Name,
		"type":      l.Type,
		"parent_id": nullable(l.ParentID),
	})
}

// LocationPatch is a partial update. Type is fixed at creation.
type LocationPatch struct {
	Name     *string `json:"name,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p LocationPatch) IsEmpty() bool {
	return p.Name == nil && p.ParentID == nil
}

// Validate checks the fields the patch sets.
func (p LocationPatch) Validate() error {
	if p.IsEmpty() {
		return errors.New("patch has no fields")
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return errors.New("name cannot be empty")
	}
	return nil
}

// Apply copies the set fields onto loc.
func (p LocationPatch) Apply(loc *Location) {
	if p.Name != nil {
		loc.Name = *p.Name
	}
	if p.ParentID != nil {
		loc.ParentID = *p.ParentID
	}
}
