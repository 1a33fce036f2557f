package constants

// Redis key formats
const (
	// Presence
	KeyDriverGeo      = "drivers:geo"          // Geo set of last known driver positions
	KeyDriverPresence = "driver:presence:%s"   // Format: driver:presence:{driver_id}

	// Geocoding cache
	KeyGeocode = "geocode:%s:%s" // Format: geocode:{geohash}:{normalized_label}

	// Rate Limiting
	KeyRateLimit = "rate:limit:%s:%s" // Format: rate:limit:{resource}:{actor}
)

// Redis hash fields
const (
	FieldLatitude  = "lat"
	FieldLongitude = "lng"
	FieldAccuracy  = "acc"
	FieldTimestamp = "ts"
	FieldAvailable = "available"
)
