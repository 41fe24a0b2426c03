package attendance

// VerificationResult is the outcome of local pre-submission validation.
//
// IsValid is true only when every applicable sub-check passed. A check
// that does not apply to the capture method (e.g., geofence for a pure
// QR scan with no GPS fix) is skipped, not failed; the corresponding
// boolean stays true so callers can AND the fields safely.
type VerificationResult struct {
	IsValid            bool `json:"is_valid"`
	IsWithinLocation   bool `json:"is_within_location"`
	IsWithinTimeWindow bool `json:"is_within_time_window"`

	ErrorMessage string `json:"error_message,omitempty"`
	LocationName string `json:"location_name,omitempty"`

	// DistanceMeters is the great-circle distance to the matched site.
	// Only meaningful when a geofence check ran.
	DistanceMeters float64 `json:"distance_meters,omitempty"`

	// QRData holds the parsed QR payload fields for the audit trail.
	QRData map[string]string `json:"qr_data,omitempty"`
}

// Invalid builds a failed result with the given message. Location and
// time-window flags default to true so that only the failing check is
// reported false by callers that set it explicitly.
func Invalid(msg string) VerificationResult {
	return VerificationResult{
		IsValid:            false,
		IsWithinLocation:   true,
		IsWithinTimeWindow: true,
		ErrorMessage:       msg,
	}
}

// Valid builds a passing result.
func Valid() VerificationResult {
	return VerificationResult{
		IsValid:            true,
		IsWithinLocation:   true,
		IsWithinTimeWindow: true,
	}
}
