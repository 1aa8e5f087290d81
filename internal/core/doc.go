// Package core holds the domain model shared by every ingestion stage.
//
// # Records
//
// Parsers emit [Record] values: a loose field map tagged with a [DomainType].
// Field names are canonicalized by the parsers; field shapes are checked by
// the validator against a [ValidationSchema].
//
// # Schemas
//
// Schemas are configuration, not user data. They are loaded once into a
// [SchemaSet] and injected into the components that read them:
//
//	set, err := schemas.Load()
//	v := validate.New(set)
//
// # Collaborators
//
// Persistence and transport are behind [Store] and [Publisher]. The merge
// policy applied at the storage boundary is [MergeFields]: only non-blank
// incoming values overwrite existing ones. Records are matched by
// [NaturalKey].
package core
