package catalogsync

import "strings"

// EntityType identifies one kind of catalog record
type EntityType string

const (
	EntityTypeBrand    EntityType = "brand"
	EntityTypeCategory EntityType = "category"
	EntityTypeProduct  EntityType = "product"
	EntityTypeSKU      EntityType = "sku"
	EntityTypeImage    EntityType = "image"
	EntityTypeStock    EntityType = "stock"
)

// CascadeTarget is the path value that requests a full cascade instead of a single stage.
const CascadeTarget = "all"

// stageOrder is the declared dependency order of a full cascade.
// Every type appears after the type it references.
var stageOrder = []EntityType{
	EntityTypeBrand,
	EntityTypeCategory,
	EntityTypeProduct,
	EntityTypeSKU,
	EntityTypeImage,
	EntityTypeStock,
}

// StageOrder returns a copy of the cascade stage order.
func StageOrder() []EntityType {
	out := make([]EntityType, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// ParseEntityType parses a case-insensitive entity type name.
func ParseEntityType(s string) (EntityType, bool) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.IsValid()
}

// IsValid returns true if the entity type is known
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeBrand, EntityTypeCategory, EntityTypeProduct,
		EntityTypeSKU, EntityTypeImage, EntityTypeStock:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (t EntityType) String() string {
	return string(t)
}

// ParentType returns the type a record of this type must reference, if any.
func (t EntityType) ParentType() (EntityType, bool) {
	switch t {
	case EntityTypeProduct:
		return EntityTypeBrand, true
	case EntityTypeSKU, EntityTypeImage:
		return EntityTypeProduct, true
	case EntityTypeStock:
		return EntityTypeSKU, true
	default:
		return "", false
	}
}

// StageIndex returns the position of the type in the cascade, or -1.
func (t EntityType) StageIndex() int {
	for i, s := range stageOrder {
		if s == t {
			return i
		}
	}
	return -1
}

// Resource returns the upstream listing resource name for the type.
func (t EntityType) Resource() string {
	switch t {
	case EntityTypeCategory:
		return "categories"
	case EntityTypeStock:
		return "stock"
	default:
		return string(t) + "s"
	}
}

// StagesFrom returns the cascade stages starting at t.
// A cascade requested for a single type runs that type and everything that depends on it.
func StagesFrom(t EntityType) []EntityType {
	idx := t.StageIndex()
	if idx < 0 {
		return nil
	}
	out := make([]EntityType, len(stageOrder)-idx)
	copy(out, stageOrder[idx:])
	return out
}
