package models

import (
	"encoding/json"
	"errors"
	"strings"
)

// Category groups items, e.g. "Electronics".
type Category struct {
	ID         string     `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	Icon       string     `db:"icon" json:"icon,omitempty"`
	RemoteID   string     `db:"remote_id" json:"remote_id,omitempty"`
	IsDeleted  bool       `db:"is_deleted" json:"-"`
	CreatedAt  int64      `db:"created_at" json:"created_at"`
	UpdatedAt  int64      `db:"updated_at" json:"updated_at"`
	SyncStatus SyncStatus `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for Category.
func (Category) TableName() string {
	return TableCategories.String()
}

// Validate checks the fields a user must supply.
func (c *Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

// Payload returns the field set sent to the remote service on create.
func (c *Category) Payload() (json.RawMessage, error) {
	return json.Marshal(map[string]interface{}{
		"id":   c.ID,
		"name": c.Name,
		"icon": nullable(c.Icon),
	})
}

// CategoryPatch is a partial update.
type CategoryPatch struct {
	Name *string `json:"name,omitempty"`
	Icon *string `json:"icon,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p CategoryPatch) IsEmpty() bool {
	return p.Name == nil && p.Icon == nil
}

// Validate checks the fields the patch sets.
func (p CategoryPatch) Validate() error {
	if p.IsEmpty() {
		return errors.New("patch has no fields")
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return errors.New("name cannot be empty")
	}
	return nil
}

// Apply copies the set fields onto cat.
func (p CategoryPatch) Apply(cat *Category) {
	if p.Name != nil {
		cat.Name = *p.Name
	}
	if p.Icon != nil {
		cat.Icon = *p.Icon
	}
}
