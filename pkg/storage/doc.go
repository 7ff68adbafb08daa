// Package storage provides BoltDB-backed persistence for Heartwood's
// small, low-cardinality lookup tables: property-key and
// relationship-type name<->id tokens, the data-source registry's
// per-resource commit checkpoints, and the cluster certificate authority.
//
// This is deliberately not where node/relationship/property records
// live — those are high-volume, fixed-size records served by the store
// engine in pkg/store directly off raw files. BoltDB earns its keep here
// because these tables are read far more than written, benefit from
// ACID commits without a custom format, and are small enough that
// bbolt's single-writer model is never a bottleneck.
package storage
