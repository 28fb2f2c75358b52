// Package models provides data model definitions for the inventory core.
package models

import (
	"fmt"
	"time"
)

// Table identifies one of the entity tables that mutations target.
// The set is closed; values outside it never reach the store.
type Table uint8

const (
	TableItems Table = iota + 1
	TableLocations
	TableCategories
)

// Tables lists every entity table in a stable order.
var Tables = []Table{TableItems, TableLocations, TableCategories}

// String returns the table name used in storage and on the wire.
func (t Table) String() string {
	switch t {
	case TableItems:
		return "items"
	case TableLocations:
		return "locations"
	case TableCategories:
		return "categories"
	default:
		return fmt.Sprintf("Table(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the known tables.
func (t Table) Valid() bool {
	return t >= TableItems && t <= TableCategories
}

// ParseTable converts a stored or routed table name back to its variant.
func ParseTable(s string) (Table, error) {
	for _, t := range Tables {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown table %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Table) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid table %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Table) UnmarshalText(b []byte) error {
	parsed, err := ParseTable(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Action is the kind of intent a queue entry carries.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// SyncStatus is the per-entity replication state.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusError   SyncStatus = "error"
)

// NowMillis returns the current time in Unix milliseconds.
// All stored timestamps use this resolution.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
