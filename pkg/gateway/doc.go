// Package gateway contains the shared domain types used across the gateway
// subpackages: sources, virtual servers, search results, opaque identifiers,
// and the classified error taxonomy.
//
// A virtual server is a tenant-configured aggregation point bound to a fixed
// network endpoint drawn from a finite pool. Each virtual server references a
// set of sources (stored credential bundles); at request time one connector
// is instantiated per source and the request fans out across them.
package gateway
