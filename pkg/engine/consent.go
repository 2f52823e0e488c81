package engine

import (
	"time"

	"github.com/veridata/fieldgate/pkg/policy"
)

// RequestContext carries the network provenance of the inbound request.
// The transport layer fills it; the engine never reads ambient state.
type RequestContext struct {
	OriginAddress string
	RequestID     string
}

// RequireConsent checks the hard consent precondition on create. Anything
// other than a literal true consent_given rejects the operation before it
// reaches storage.
func RequireConsent(data map[string]interface{}) error {
	given, ok := data[policy.FieldConsentGiven].(bool)
	if !ok || !given {
		return ErrConsentRequired
	}
	return nil
}

// StampConsent populates consent provenance on a new record. Timestamp and
// origin are filled only when absent; caller-supplied values are never
// overwritten silently. data is mutated in place.
func StampConsent(data map[string]interface{}, reqCtx RequestContext, now time.Time) {
	if _, ok := data[policy.FieldConsentTimestamp]; !ok {
		data[policy.FieldConsentTimestamp] = now.UTC().Format(time.RFC3339)
	}
	if _, ok := data[policy.FieldOriginAddress]; !ok && reqCtx.OriginAddress != "" {
		data[policy.FieldOriginAddress] = reqCtx.OriginAddress
	}
}
