package constants

// WebSocket event types
const (
	// Client to server
	EventWatchTrip   = "watch_trip"
	EventWatchActive = "watch_active"
	EventWatchOpen   = "watch_open"
	EventUnwatch     = "unwatch"

	// Server to client
	EventSnapshot          = "snapshot"
	EventTripUpdated       = "trip_updated"
	EventSubscriptionError = "subscription_error"
	EventError             = "error"
)

// WebSocket error codes
const (
	ErrorInvalidFormat    = "invalid_format"
	ErrorValidationFailed = "validation_failed"
	ErrorUnauthorized     = "unauthorized"
	ErrorInternalError    = "internal_error"
	ErrorUnknownEvent     = "unknown_event"
	ErrorTripNotFound     = "trip_not_found"
	ErrorDuplicateWatch   = "duplicate_subscription"
)

// ErrorSeverity decides how much of an error is shown to the client
type ErrorSeverity int

const (
	ErrorSeverityClient ErrorSeverity = iota
	ErrorSeverityServer
	ErrorSeveritySecurity
)
