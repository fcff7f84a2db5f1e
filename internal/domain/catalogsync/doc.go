// Package catalogsync contains the Catalog Sync bounded context.
// This context pulls catalog data from an upstream e-commerce platform and
// reconciles it into the local relational store.
//
// Key concepts:
//   - EntityType: brand, category, product, sku, image, stock, in stage order
//   - ExternalEntity: one record as returned by the upstream listing API
//   - CanonicalRecord: the normalized internal row keyed by external_id
//   - Outcome: the per-item result of a write (inserted, updated, unchanged, skipped, failed)
//   - ImportJob: progress and counters of one stage or cascade run
//
// Design Pattern: Ports & Adapters
//   - Ports (CatalogSource, RecordWriter, ParentResolver, JobStore) are defined here
//   - Adapters live in the infrastructure layer
package catalogsync
