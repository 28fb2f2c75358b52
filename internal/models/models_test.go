// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"strings"
	"testing"
)

// =====================================================
// Table Variant Tests
// =====================================================

// TestTable_roundTrip verifies every table parses back from its name.
func TestTable_roundTrip(t *testing.T) {
	for _, table := range Tables {
		got, err := ParseTable(table.String())
		if err != nil {
			t.Fatalf("ParseTable(%q) error = %v", table, err)
		}
		if got != table {
			t.Errorf("ParseTable(%q) = %v, want %v", table.String(), got, table)
		}
	}
}

// TestParseTable_unknown verifies unknown names are rejected.
func TestParseTable_unknown(t *testing.T) {
	if _, err := ParseTable("pendingSync"); err == nil {
		t.Error("ParseTable should reject unknown names")
	}
	if Table(0).Valid() || Table(9).Valid() {
		t.Error("zero and out-of-range tables must be invalid")
	}
}

// TestTable_JSON verifies tables serialize by name.
func TestTable_JSON(t *testing.T) {
	entry := PendingSyncEntry{ID: "e1", Action: ActionCreate, Table: TableLocations, EntityID: "l1"}
	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if !strings.Contains(string(data), `"table":"locations"`) {
		t.Errorf("expected table name in JSON, got %s", data)
	}

	var decoded PendingSyncEntry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if decoded.Table != TableLocations {
		t.Errorf("decoded table = %v, want locations", decoded.Table)
	}
}

// TestAction_Valid verifies the closed action set.
func TestAction_Valid(t *testing.T) {
	for _, a := range []Action{ActionCreate, ActionUpdate, ActionDelete} {
		if !a.Valid() {
			t.Errorf("%q should be valid", a)
		}
	}
	if Action("upsert").Valid() {
		t.Error("upsert should be invalid")
	}
}

// =====================================================
// Item Tests
// =====================================================

// TestItem_Validate checks required name and condition values.
func TestItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    Item
		wantErr bool
	}{
		{"ok", Item{Name: "Drill", Condition: "good"}, false},
		{"no condition", Item{Name: "Drill"}, false},
		{"blank name", Item{Name: "  "}, true},
		{"bad condition", Item{Name: "Drill", Condition: "mint"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestItem_Payload verifies local-only fields never leave the device.
func TestItem_Payload(t *testing.T) {
	value := 120.5
	item := Item{
		ID:             "i1",
		ClientID:       "i1",
		Name:           "Drill",
		EstimatedValue: &value,
		Tags:           []string{"tools"},
		ImageBlob:      []byte{0xff, 0xd8},
		SyncStatus:     StatusPending,
		IsDeleted:      true,
	}

	raw, err := item.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	for _, local := range []string{"image_blob", "sync_status", "is_deleted", "remote_id"} {
		if _, ok := fields[local]; ok {
			t.Errorf("payload should not contain %q", local)
		}
	}
	if fields["name"] != "Drill" || fields["estimated_value"] != 120.5 {
		t.Errorf("payload fields = %v", fields)
	}
	if fields["brand"] != nil {
		t.Errorf("empty brand should be null, got %v", fields["brand"])
	}
}

// TestItemPatch_Apply verifies only set fields change.
func TestItemPatch_Apply(t *testing.T) {
	item := Item{Name: "Drill", Brand: "Acme", Tags: []string{"tools"}}
	name := "Cordless drill"
	tags := []string{"tools", "garage"}
	patch := ItemPatch{Name: &name, Tags: &tags}

	patch.Apply(&item)

	if item.Name != "Cordless drill" {
		t.Errorf("Name = %q", item.Name)
	}
	if item.Brand != "Acme" {
		t.Errorf("Brand should be untouched, got %q", item.Brand)
	}
	tags[0] = "mutated"
	if item.Tags[0] != "tools" {
		t.Error("Apply should copy the tag slice")
	}
}

// TestItemPatch_payloadOnlySetFields verifies the update payload carries the changed fields only.
func TestItemPatch_payloadOnlySetFields(t *testing.T) {
	brand := "Bosch"
	data, err := json.Marshal(ItemPatch{Brand: &brand})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(data) != `{"brand":"Bosch"}` {
		t.Errorf("patch JSON = %s", data)
	}
}

// TestItemPatch_Validate rejects empty patches and blank names.
func TestItemPatch_Validate(t *testing.T) {
	if err := (ItemPatch{}).Validate(); err == nil {
		t.Error("empty patch should be rejected")
	}
	blank := ""
	if err := (ItemPatch{Name: &blank}).Validate(); err == nil {
		t.Error("blank name should be rejected")
	}
	cond := "fair"
	if err := (ItemPatch{Condition: &cond}).Validate(); err != nil {
		t.Errorf("valid condition rejected: %v", err)
	}
}

// =====================================================
// Location / Category Tests
// =====================================================

// TestLocation_Validate checks the property → room → spot rules.
func TestLocation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		loc     Location
		wantErr bool
	}{
		{"property", Location{Name: "Home", Type: LocationProperty}, false},
		{"room", Location{Name: "Kitchen", Type: LocationRoom, ParentID: "p1"}, false},
		{"room without parent", Location{Name: "Kitchen", Type: LocationRoom}, true},
		{"property with parent", Location{Name: "Home", Type: LocationProperty, ParentID: "x"}, true},
		{"bad type", Location{Name: "Shed", Type: "building"}, true},
		{"blank name", Location{Type: LocationProperty}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.loc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestLocationType_ParentType verifies the hierarchy.
func TestLocationType_ParentType(t *testing.T) {
	if LocationSpot.ParentType() != LocationRoom {
		t.Error("spot should hang under room")
	}
	if LocationRoom.ParentType() != LocationProperty {
		t.Error("room should hang under property")
	}
	if LocationProperty.ParentType() != "" {
		t.Error("property is a root")
	}
}

// TestCategoryPatch_Apply verifies icon and name updates.
func TestCategoryPatch_Apply(t *testing.T) {
	cat := Category{Name: "Tools", Icon: "wrench"}
	icon := "hammer"
	CategoryPatch{Icon: &icon}.Apply(&cat)
	if cat.Icon != "hammer" || cat.Name != "Tools" {
		t.Errorf("Apply() = %+v", cat)
	}
}
