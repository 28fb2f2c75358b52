package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Item conditions accepted by the remote service.
var Conditions = []string{"new", "like-new", "good", "fair", "poor"}

// Item is a household item held on the device.
// ImageBlob is the locally buffered photo; once uploaded it is cleared and ImageURL is set.
type Item struct {
	ID             string     `db:"id" json:"id"`
	ClientID       string     `db:"client_id" json:"client_id"`
	Name           string     `db:"name" json:"name"`
	CategoryID     string     `db:"category_id" json:"category_id,omitempty"`
	LocationID     string     `db:"location_id" json:"location_id,omitempty"`
	Description    string     `db:"description" json:"description,omitempty"`
	Brand          string     `db:"brand" json:"brand,omitempty"`
	Model          string     `db:"model" json:"model,omitempty"`
	EstimatedValue *float64   `db:"estimated_value" json:"estimated_value,omitempty"`
	PurchaseYear   *int       `db:"purchase_year" json:"purchase_year,omitempty"`
	Condition      string     `db:"condition" json:"condition,omitempty"`
	Tags           []string   `db:"tags" json:"tags,omitempty"`
	ImageBlob      []byte     `db:"image_blob" json:"-"`
	ImageMIME      string     `db:"image_mime" json:"-"`
	ImageURL       string     `db:"image_url" json:"image_url,omitempty"`
	ThumbnailURL   string     `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	RemoteID       string     `db:"remote_id" json:"remote_id,omitempty"`
	IsDeleted      bool       `db:"is_deleted" json:"-"`
	CreatedAt      int64      `db:"created_at" json:"created_at"`
	UpdatedAt      int64      `db:"updated_at" json:"updated_at"`
	SyncStatus     SyncStatus `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for Item.
func (Item) TableName() string {
	return TableItems.String()
}

// ImageRef locates an uploaded photo in remote storage.
type ImageRef struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// HasImageBuffer reports whether a photo is still waiting for upload.
func (i *Item) HasImageBuffer() bool {
	return len(i.ImageBlob) > 0
}

// Validate checks the fields a user must supply.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return errors.New("name is required")
	}
	return validateCondition(i.Condition)
}

// Payload returns the field set sent to the remote service on create.
// Local-only columns (image buffer, sync status, tombstone) are excluded.
func (i *Item) Payload() (json.RawMessage, error) {
	return json.Marshal(map[string]interface{}{
		"id":              i.ID,
		"client_id":       i.ClientID,
		"name":            i.Name,
		"category_id":     nullable(i.CategoryID),
		"location_id":     nullable(i.LocationID),
		"description":     nullable(i.Description),
		"brand":           nullable(i.Brand),
		"model":           nullable(i.Model),
		"estimated_value": i.EstimatedValue,
		"purchase_year":   i.PurchaseYear,
		"condition":       nullable(i.Condition),
		"tags":            i.Tags,
		"image_url":       nullable(i.ImageURL),
		"thumbnail_url":   nullable(i.ThumbnailURL),
	})
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (i *Item) CreatedAtTime() time.Time {
	return time.UnixMilli(i.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (i *Item) UpdatedAtTime() time.Time {
	return time.UnixMilli(i.UpdatedAt)
}

// ItemPatch is a partial update. Nil fields are left unchanged.
type ItemPatch struct {
	Name           *string   `json:"name,omitempty"`
	CategoryID     *string   `json:"category_id,omitempty"`
	LocationID     *string   `json:"location_id,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Brand          *string   `json:"brand,omitempty"`
	Model          *string   `json:"model,omitempty"`
	EstimatedValue *float64  `json:"estimated_value,omitempty"`
	PurchaseYear   *int      `json:"purchase_year,omitempty"`
	Condition      *string   `json:"condition,omitempty"`
	Tags           *[]string `json:"tags,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ItemPatch) IsEmpty() bool {
	return p.Name == nil && p.CategoryID == nil && p.LocationID == nil &&
		p.Description == nil && p.Brand == nil && p.Model == nil &&
		p.EstimatedValue == nil && p.PurchaseYear == nil &&
		p.Condition == nil && p.Tags == nil
}

// Validate checks the fields the patch sets.
func (p ItemPatch) Validate() error {
	if p.IsEmpty() {
		return errors.New("patch has no fields")
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return errors.New("name cannot be empty")
	}
	if p.Condition != nil {
		return validateCondition(*p.Condition)
	}
	return nil
}

// Apply copies the set fields onto item.
func (p ItemPatch) Apply(item *Item) {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.CategoryID != nil {
		item.CategoryID = *p.CategoryID
	}
	if p.LocationID != nil {
		item.LocationID = *p.LocationID
	}
	if p.Description != nil {
		item.Description = *p.Description
	}
	if p.Brand != nil {
		item.Brand = *p.Brand
	}
	if p.Model != nil {
		item.Model = *p.Model
	}
	if p.EstimatedValue != nil {
		v := *p.EstimatedValue
		item.EstimatedValue = &v
	}
	if p.PurchaseYear != nil {
		v := *p.PurchaseYear
		item.PurchaseYear = &v
	}
	if p.Condition != nil {
		item.Condition = *p.Condition
	}
	if p.Tags != nil {
		item.Tags = append([]string(nil), (*p.Tags)...)
	}
}

func validateCondition(c string) error {
	if c == "" {
		return nil
	}
	for _, known := range Conditions {
		if c == known {
			return nil
		}
	}
	return errors.New("condition must be one of " + strings.Join(Conditions, ", "))
}

// nullable maps the empty string to JSON null.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
