// Package dispatcher is the top-level entrypoint: the single
// process_message(tenant, message, dataStream?) surface that
// routes by (interface, method) to the handler that owns it, and
// translates every classified failure into a reply so no
// internal error ever reaches a caller unclassified.
package dispatcher
