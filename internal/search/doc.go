// Package search retrieves housing listings for a set of criteria.
//
// A Service fronts a Source (an Elasticsearch index of listings, or a JSON
// fixture file in development) with a result cache, a global cooldown
// between source queries, a circuit breaker and a per-call timeout. Every
// result leaves the Service in the order defined by listing.Finalize.
package search
