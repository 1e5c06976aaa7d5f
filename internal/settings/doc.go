// Package settings models the per-SKU license record and the façade that
// loads, merges, and persists it.
//
// A license record is bound to exactly one of two incompatible schema
// versions at construction: the current ("new") backend schema and the
// legacy ("old") backend schema. The two field sets are disjoint apart from
// the status field and the universal product_sku alias; supplying raw data
// that belongs to the other schema is a construction-time error
// (errors.ErrInvalidSettingsVersion), which is the enforcement point that
// prevents cross-version data corruption.
//
// LicenseSettings is the per-process façade over the persisted SKU→record
// map. It unifies the bound schema's fields and the process Defaults fields
// under one Get/Set namespace and owns the delete-on-empty persistence
// policy for Update.
package settings
