// Package engine composes field-level access control, immutability
// enforcement, consent capture and audit into one ordered pipeline.
//
// Every operation passes the same stages in the same order: access
// evaluation, field write checks, consent capture (creates only), the
// immutability guard (updates only), storage, and the audit append. The
// evaluator, projector and guard are pure functions over the policy table
// and safe for unbounded concurrent use.
//
// Denials leave no trace in the primary store but are recorded in the audit
// trail for audited resource types. Immutable-field tampering is silently
// reverted rather than failing the request; the reverted field names and
// attempt hashes appear only in the audit trail, never in the response.
package engine
