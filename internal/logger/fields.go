package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently across
// every log statement so aggregation and querying see one vocabulary.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Directory Operations
	// ========================================================================
	KeyOperation = "operation"  // Operation kind: bind, add, delete, modify, modifyDN, search, compare
	KeyTargetDN  = "dn"         // Target distinguished name
	KeyNewDN     = "new_dn"     // Destination DN for modifyDN operations
	KeyScope     = "scope"      // Search scope: base, one, sub
	KeyFilter    = "filter"     // Search filter text
	KeyStage     = "stage"      // Interceptor stage name
	KeyMessageID = "message_id" // Wire-adapter message ID
	KeyResult    = "result"     // Result code name

	// ========================================================================
	// Sessions & Clients
	// ========================================================================
	KeySessionID  = "session_id"  // Session correlation ID
	KeyBindDN     = "bind_dn"     // Bound identity's DN
	KeyAuthMethod = "auth_method" // anonymous, simple, GSSAPI
	KeyClientIP   = "client_ip"   // Client IP address

	// ========================================================================
	// Referrals
	// ========================================================================
	KeyReferralURL  = "referral_url"  // One referral target URL
	KeyReferralKind = "referral_kind" // exact or ancestor

	// ========================================================================
	// Partitions & Storage
	// ========================================================================
	KeySuffix  = "suffix"  // Partition naming context
	KeyBackend = "backend" // memory, badger, postgres

	// ========================================================================
	// Change-log
	// ========================================================================
	KeyRevision = "revision"  // Change-log revision number
	KeyRevertTo = "revert_to" // Target revision of a revert

	// ========================================================================
	// Timing & Errors
	// ========================================================================
	KeyDuration = "duration_ms" // Operation duration in milliseconds
	KeyError    = "error"       // Error message
)

// Operation returns a pre-typed attr for the operation kind.
func Operation(kind string) slog.Attr { return slog.String(KeyOperation, kind) }

// TargetDN returns a pre-typed attr for the operation's target DN.
func TargetDN(dn string) slog.Attr { return slog.String(KeyTargetDN, dn) }

// SessionID returns a pre-typed attr for the session correlation ID.
func SessionID(id string) slog.Attr { return slog.String(KeySessionID, id) }

// Stage returns a pre-typed attr for an interceptor stage name.
func Stage(name string) slog.Attr { return slog.String(KeyStage, name) }

// Err returns a pre-typed attr for an error value.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
