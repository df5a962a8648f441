// Package index implements the sorted secondary index store: a
// per-tenant, per-property forward index plus a reverse lookup, an
// OR-of-AND filter algebra over Equal/OneOf/Range predicates, and the
// two query strategies the store picks between — in-memory paging for
// filters expected to be small (a recordId filter, or any filter
// naming one of the usual Records correlation properties), iterator
// paging for everything else.
package index
