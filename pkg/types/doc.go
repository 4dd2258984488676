// Package types defines the PersistentStore contract, the entity model
// (entities, attributes, relationships), records and change sets, and the
// standard errors for the larder object store.
//
// Attribute values are held in canonical Go types: int64, float64, string,
// bool, time.Time, and arbitrary decoded JSON for json attributes. Use
// AttributeType.Coerce to bring raw input into that form.
package types
