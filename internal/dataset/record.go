// Package dataset persists finalized items.
//
// The dataset is an append-only ordered collection of ItemRecord. Stores never
// replace existing content they could not read: a store that fails to parse is
// reported as corrupt and left byte-for-byte as it was.
package dataset

import (
	"context"
	"strings"
	"time"

	perr "ocr-labeler/internal/errors"

	"github.com/go-playground/validator/v10"
)

// DefaultFile is the dataset file name used when none is configured.
const DefaultFile = "item_dataset.json"

// StorageRecommendations is the fixed list offered to operators. It is
// advisory: any non-empty value is accepted on finalize.
var StorageRecommendations = []string{
	"Warehouse Shelf",
	"Cold Storage",
	"Dry Storage",
	"Fragile Goods Area",
	"Hazardous Material Storage",
}

// Metadata is what the operator supplies when finalizing an item.
type Metadata struct {
	CompanyName           string `json:"company_name" validate:"required"`
	ItemName              string `json:"item_name" validate:"required"`
	Category              string `json:"category" validate:"required"`
	StorageRecommendation string `json:"storage_recommendation" validate:"required"`
}

// Trimmed returns m with surrounding whitespace removed from every field.
func (m Metadata) Trimmed() Metadata {
	return Metadata{
		CompanyName:           strings.TrimSpace(m.CompanyName),
		ItemName:              strings.TrimSpace(m.ItemName),
		Category:              strings.TrimSpace(m.Category),
		StorageRecommendation: strings.TrimSpace(m.StorageRecommendation),
	}
}

// ItemRecord is one finalized item. Immutable once appended.
type ItemRecord struct {
	ID                    string    `json:"id,omitempty"`
	CompanyName           string    `json:"company_name" validate:"required"`
	ItemName              string    `json:"item_name" validate:"required"`
	Category              string    `json:"category" validate:"required"`
	StorageRecommendation string    `json:"storage_recommendation" validate:"required"`
	OCRTextList           []string  `json:"ocr_text_list" validate:"required,min=1,dive,required"`
	Timestamp             time.Time `json:"timestamp"`
}

// Store is a durable ordered collection of ItemRecord.
type Store interface {
	// Append adds rec after every existing record. On error nothing is written.
	Append(ctx context.Context, rec ItemRecord) error
	// Load returns all records in append order.
	Load(ctx context.Context) ([]ItemRecord, error)
	Close() error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// tagName maps struct field names back to their JSON keys for error fields.
var tagName = map[string]string{
	"CompanyName":           "company_name",
	"ItemName":              "item_name",
	"Category":              "category",
	"StorageRecommendation": "storage_recommendation",
	"OCRTextList":           "ocr_text_list",
}

// ValidateMetadata trims m and reports the first blank field as MissingMetadata.
func ValidateMetadata(m Metadata) (Metadata, error) {
	m = m.Trimmed()
	if err := validate.Struct(m); err != nil {
		return m, validationError(err)
	}
	return m, nil
}

// Validate checks the persistence invariant: four non-empty fields and a
// non-empty list of non-empty attempts.
func Validate(rec ItemRecord) error {
	if err := validate.Struct(rec); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			if verrs[0].StructField() == "OCRTextList" || strings.HasPrefix(verrs[0].StructField(), "OCRTextList[") {
				return perr.WithField(perr.ErrNoAttempts, "ocr_text_list")
			}
		}
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return perr.Wrap(err, perr.ErrorCodeInvalid, "invalid item")
	}
	field := tagName[verrs[0].StructField()]
	if field == "" {
		field = verrs[0].Field()
	}
	return perr.MissingMetadataf(field, "%s is required", field)
}
