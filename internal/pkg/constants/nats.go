package constants

// NATS Subjects
const (
	// Trip change bus. Every committed write publishes the full trip here.
	SubjectTripUpdated = "trip.updated.%s" // Format: trip.updated.{trip_id}
	SubjectTripAll     = "trip.updated.*"

	// Driver location samples accepted by the presence endpoint
	SubjectDriverLocation = "driver.location"
)

// NSQ topics
const (
	TopicTripAudit = "trip_audit" // default, overridable by NSQ_AUDIT_TOPIC
)

// Trip event types carried on the change bus and the audit stream
const (
	EventTripCreated      = "trip.created"
	EventTripClaimed      = "trip.claimed"
	EventTripTransitioned = "trip.transitioned"
	EventTripCancelled    = "trip.cancelled"
	EventTripExpired      = "trip.expired"
)
