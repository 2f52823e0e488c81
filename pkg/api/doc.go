// Package api exposes the engine over HTTP.
//
// Routes are generic over resource types; the policy table decides which
// types exist and what each actor may do:
//
//	POST   /api/v1/{resourceType}
//	GET    /api/v1/{resourceType}
//	GET    /api/v1/{resourceType}/{id}
//	PUT    /api/v1/{resourceType}/{id}
//	DELETE /api/v1/{resourceType}/{id}
//	POST   /api/v1/{resourceType}/{id}/erase
//
// The audit query surface mounts under the same prefix when a Searcher is
// supplied (/api/v1/audit/entries and friends), gated by the audit_entry
// read rule.
//
// Identity arrives in X-Actor-ID and X-Actor-Role headers set by the
// upstream gateway; requests without them run as anonymous. Error responses
// never reveal whether a denied record exists or which rule fired.
package api
