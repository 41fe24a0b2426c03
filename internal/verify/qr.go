package verify

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/dotops/presence/internal/attendance"
)

// DefaultQRPrefix is the literal scheme prefix of site QR codes.
const DefaultQRPrefix = "DOT_QR"

// QRValidator parses and validates scanned site QR payloads.
//
// Payload format, pipe-delimited:
//
//	PREFIX|action|timestampEpochMs|locationId[|extra...]
//
// Expiry is enforced locally at capture time. A device may stay offline
// for hours before syncing, so deferring the age check to the server
// would let a stale or replayed QR image produce a valid check-in.
type QRValidator struct {
	// Prefix is the required literal first field.
	Prefix string
	// MaxAge is how old a payload timestamp may be at capture time.
	// Zero or negative disables the expiry check.
	MaxAge time.Duration
}

// NewQRValidator creates a validator with the given prefix and max age.
func NewQRValidator(prefix string, maxAge time.Duration) *QRValidator {
	if prefix == "" {
		prefix = DefaultQRPrefix
	}
	return &QRValidator{Prefix: prefix, MaxAge: maxAge}
}

// Validate checks a raw scanned payload against structure and expiry
// rules as of now.
//
// The raw payload is NFC-normalized before parsing so that visually
// identical scans from different camera stacks compare equal.
//
// Pure function of (raw, now): no side effects, safe on any goroutine.
func (v *QRValidator) Validate(raw string, now time.Time) attendance.VerificationResult {
	raw = norm.NFC.String(strings.TrimSpace(raw))

	fields := strings.Split(raw, "|")
	if len(fields) < 3 || fields[0] != v.Prefix {
		return attendance.Invalid("malformed QR")
	}

	epochMs, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return attendance.Invalid("malformed QR")
	}
	issued := time.UnixMilli(epochMs)

	if v.MaxAge > 0 && now.Sub(issued) > v.MaxAge {
		res := attendance.Invalid("QR expired")
		res.IsWithinTimeWindow = false
		return res
	}

	res := attendance.Valid()
	res.QRData = parseFields(fields)
	if loc, ok := res.QRData["location_id"]; ok {
		res.LocationName = loc
	}
	return res
}

// parseFields maps the positional payload fields into the audit-trail
// map. Extra fields beyond the fixed scheme are kept as extra1, extra2…
func parseFields(fields []string) map[string]string {
	data := map[string]string{
		"action":    fields[1],
		"timestamp": fields[2],
	}
	if len(fields) > 3 {
		data["location_id"] = fields[3]
	}
	if len(fields) > 4 {
		for i, extra := range fields[4:] {
			data["extra"+strconv.Itoa(i+1)] = extra
		}
	}
	return data
}
