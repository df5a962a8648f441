// Package blobstore implements the content-addressed blob store:
// (tenant, recordId, dataCid) linkage into a tenant-shared,
// reference-counted byte store. Bytes are chunked before being written
// to the KV engine so a single blob never has to round-trip through
// one oversized value; Get reassembles chunks back into a single
// stream.
package blobstore
