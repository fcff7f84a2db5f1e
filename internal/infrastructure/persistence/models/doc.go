// Package models contains GORM persistence models for the synced catalog
// tables. They are separate from the canonical records in the domain layer
// so the domain stays free of ORM concerns.
//
// Every table shares CatalogBaseModel, which carries the (tenant_id,
// external_id) natural key, the resolved parent id and the content hash
// the writer compares on re-sync.
package models
