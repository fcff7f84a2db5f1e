package catalogsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
)

// ErrTombstone is returned for upstream records flagged as deleted.
// The orchestrator records them as skipped.
var ErrTombstone = errors.New("deleted upstream")

// Normalizer maps external entities to canonical records.
type Normalizer struct {
	validate *validator.Validate
}

// NewNormalizer creates a normalizer
func NewNormalizer() *Normalizer {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Normalizer{validate: v}
}

// Normalize validates e, coerces its attributes and resolves its parent through
// lookup. Invalid optional fields are coerced to defaults and returned as
// warnings. A required parent that lookup cannot find is a
// *catalogsync.MissingDependencyError; a missing required field is a
// *catalogsync.ValidationError.
func (n *Normalizer) Normalize(ctx context.Context, tenantID uuid.UUID, e catalogsync.ExternalEntity, lookup catalogsync.ParentLookup) (*catalogsync.CanonicalRecord, []catalogsync.FieldWarning, error) {
	if strings.TrimSpace(e.ExternalID) == "" {
		return nil, nil, &catalogsync.ValidationError{EntityType: e.EntityType, Field: "id", Reason: "required"}
	}
	if deleted, _ := e.Attributes["deleted"].(bool); deleted {
		return nil, nil, ErrTombstone
	}

	a := attrReader{attrs: e.Attributes}
	var attrs catalogsync.Attributes
	switch e.EntityType {
	case catalogsync.EntityTypeBrand:
		attrs = &catalogsync.BrandAttributes{
			Name:        a.str("name"),
			Description: a.str("description"),
			LogoURL:     a.str("logo_url"),
		}
	case catalogsync.EntityTypeCategory:
		attrs = &catalogsync.CategoryAttributes{
			Name:           a.str("name"),
			Slug:           a.str("slug"),
			ParentCategory: a.str("parent_id"),
			SortOrder:      a.intOr("sort_order", 0),
		}
	case catalogsync.EntityTypeProduct:
		attrs = &catalogsync.ProductAttributes{
			Title:       a.str("title"),
			Description: a.str("description"),
			Status:      a.status("status"),
			Price:       a.decimalOr("price"),
			CategoryRef: a.str("category_id"),
		}
	case catalogsync.EntityTypeSKU:
		attrs = &catalogsync.SKUAttributes{
			Code:    a.str("code"),
			Title:   a.str("title"),
			Price:   a.decimalOr("price"),
			Barcode: a.str("barcode"),
			Weight:  a.decimalOr("weight"),
		}
	case catalogsync.EntityTypeImage:
		attrs = &catalogsync.ImageAttributes{
			URL:      a.str("url"),
			Alt:      a.str("alt"),
			Position: a.nonNegativeInt("position"),
		}
	case catalogsync.EntityTypeStock:
		attrs = &catalogsync.StockAttributes{
			Warehouse: a.str("warehouse"),
			Quantity:  int64(a.nonNegativeInt("quantity")),
			Reserved:  int64(a.nonNegativeInt("reserved")),
		}
	default:
		return nil, nil, fmt.Errorf("%w: %s", catalogsync.ErrInvalidEntityType, e.EntityType)
	}

	if err := n.validate.StructCtx(ctx, attrs); err != nil {
		return nil, a.warnings, toValidationError(e, err)
	}

	record := &catalogsync.CanonicalRecord{
		TenantID:   tenantID,
		EntityType: e.EntityType,
		ExternalID: e.ExternalID,
		Attributes: attrs,
	}
	if !e.LastModified.IsZero() {
		t := e.LastModified.UTC()
		record.SourceUpdatedAt = &t
	}

	if parentType, required := e.EntityType.ParentType(); required {
		if strings.TrimSpace(e.ParentExternalID) == "" {
			return nil, a.warnings, &catalogsync.ValidationError{
				EntityType: e.EntityType,
				ExternalID: e.ExternalID,
				Field:      string(parentType) + "_id",
				Reason:     "required",
			}
		}
		parentID, err := lookup(ctx, parentType, e.ParentExternalID)
		if err != nil {
			if errors.Is(err, catalogsync.ErrParentNotFound) {
				return nil, a.warnings, &catalogsync.MissingDependencyError{
					EntityType:       e.EntityType,
					ExternalID:       e.ExternalID,
					ParentType:       parentType,
					ParentExternalID: e.ParentExternalID,
				}
			}
			return nil, a.warnings, fmt.Errorf("resolve %s %q: %w", parentType, e.ParentExternalID, err)
		}
		record.ParentID = &parentID
		record.ParentExternalID = e.ParentExternalID
	}

	// Category is an optional reference; an unresolved one is dropped with a warning.
	if p, ok := attrs.(*catalogsync.ProductAttributes); ok && p.CategoryRef != "" {
		categoryID, err := lookup(ctx, catalogsync.EntityTypeCategory, p.CategoryRef)
		switch {
		case err == nil:
			record.CategoryID = &categoryID
		case errors.Is(err, catalogsync.ErrParentNotFound):
			a.warn("category_id", fmt.Sprintf("category %q not imported, left empty", p.CategoryRef))
		default:
			return nil, a.warnings, fmt.Errorf("resolve category %q: %w", p.CategoryRef, err)
		}
	}

	hash, err := catalogsync.ComputeContentHash(record)
	if err != nil {
		return nil, a.warnings, fmt.Errorf("hash %s %q: %w", e.EntityType, e.ExternalID, err)
	}
	record.ContentHash = hash

	return record, a.warnings, nil
}

func toValidationError(e catalogsync.ExternalEntity, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &catalogsync.ValidationError{
			EntityType: e.EntityType,
			ExternalID: e.ExternalID,
			Field:      fe.Field(),
			Reason:     validationReason(fe),
		}
	}
	return &catalogsync.ValidationError{EntityType: e.EntityType, ExternalID: e.ExternalID, Reason: err.Error()}
}

func validationReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "url":
		return "must be an absolute URL"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		if fe.Param() != "" {
			return fe.Tag() + "=" + fe.Param()
		}
		return fe.Tag()
	}
}

// ---------------------------------------------------------------------------
// Attribute coercion
// ---------------------------------------------------------------------------

// attrReader reads loosely typed upstream attributes and collects warnings
// for optional values it had to coerce.
type attrReader struct {
	attrs    map[string]any
	warnings []catalogsync.FieldWarning
}

func (r *attrReader) warn(field, reason string) {
	r.warnings = append(r.warnings, catalogsync.FieldWarning{Field: field, Reason: reason})
}

func (r *attrReader) str(key string) string {
	switch v := r.attrs[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		r.warn(key, fmt.Sprintf("unsupported type %T, left empty", v))
		return ""
	}
}

func (r *attrReader) decimalOr(key string) decimal.Decimal {
	raw, ok := r.attrs[key]
	if !ok || raw == nil {
		return decimal.Zero
	}
	var (
		d   decimal.Decimal
		err error
	)
	switch v := raw.(type) {
	case json.Number:
		d, err = decimal.NewFromString(v.String())
	case string:
		if strings.TrimSpace(v) == "" {
			return decimal.Zero
		}
		d, err = decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		d = decimal.NewFromFloat(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil {
		r.warn(key, fmt.Sprintf("invalid number %v, defaulted to 0", raw))
		return decimal.Zero
	}
	if d.IsNegative() {
		r.warn(key, fmt.Sprintf("negative value %s, defaulted to 0", d))
		return decimal.Zero
	}
	return d
}

func (r *attrReader) intOr(key string, def int) int {
	raw, ok := r.attrs[key]
	if !ok || raw == nil {
		return def
	}
	var f float64
	switch v := raw.(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			r.warn(key, fmt.Sprintf("invalid integer %v, defaulted to %d", raw, def))
			return def
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			r.warn(key, fmt.Sprintf("invalid integer %q, defaulted to %d", v, def))
			return def
		}
		f = parsed
	case float64:
		f = v
	case int:
		return v
	case int64:
		return int(v)
	default:
		r.warn(key, fmt.Sprintf("unsupported type %T, defaulted to %d", v, def))
		return def
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		r.warn(key, fmt.Sprintf("non-integer %v, defaulted to %d", raw, def))
		return def
	}
	return int(f)
}

func (r *attrReader) nonNegativeInt(key string) int {
	n := r.intOr(key, 0)
	if n < 0 {
		r.warn(key, fmt.Sprintf("negative value %d, defaulted to 0", n))
		return 0
	}
	return n
}

var statusAliases = map[string]catalogsync.ProductStatus{
	"active":       catalogsync.ProductStatusActive,
	"on_sale":      catalogsync.ProductStatusActive,
	"published":    catalogsync.ProductStatusActive,
	"enabled":      catalogsync.ProductStatusActive,
	"draft":        catalogsync.ProductStatusDraft,
	"unpublished":  catalogsync.ProductStatusDraft,
	"pending":      catalogsync.ProductStatusDraft,
	"archived":     catalogsync.ProductStatusArchived,
	"inactive":     catalogsync.ProductStatusArchived,
	"disabled":     catalogsync.ProductStatusArchived,
	"discontinued": catalogsync.ProductStatusArchived,
}

// status maps upstream product states onto the canonical enum. Missing means
// active; anything unrecognised becomes draft so it is not sold by accident.
func (r *attrReader) status(key string) catalogsync.ProductStatus {
	s := strings.ToLower(r.str(key))
	if s == "" {
		return catalogsync.ProductStatusActive
	}
	if st, ok := statusAliases[s]; ok {
		return st
	}
	r.warn(key, fmt.Sprintf("unknown status %q, defaulted to draft", s))
	return catalogsync.ProductStatusDraft
}
