// Package billing mounts the operational HTTP surface of the billing engine:
// plan listing, read-only subscription and invoice lookups, manual sweep
// triggers and a readiness probe. Responses use a {data, meta, error} JSON
// envelope.
package billing
