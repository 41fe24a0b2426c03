package verify

import (
	"fmt"
	"time"

	"github.com/dotops/presence/internal/attendance"
)

// Site is a registered location with a circular geofence.
type Site struct {
	ID           string
	Name         string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

// ShiftPolicy decides whether an action is permitted at a point in
// time. The policy itself (shift tables, schedules) is owned elsewhere;
// the coordinator only consumes the decision.
type ShiftPolicy interface {
	// Allows returns whether the action is permitted at t, and a
	// user-facing reason when it is not.
	Allows(action attendance.ActionType, t time.Time) (ok bool, reason string)
}

// AlwaysAllowed is a ShiftPolicy that permits every action. Used when
// no shift window is configured.
type AlwaysAllowed struct{}

func (AlwaysAllowed) Allows(attendance.ActionType, time.Time) (bool, string) {
	return true, ""
}

// Capture is the raw material of one verification request.
type Capture struct {
	Action attendance.ActionType
	// Latitude/Longitude are the device GPS fix, nil when unavailable.
	Latitude  *float64
	Longitude *float64
	// QRPayload is the raw scanned string, empty for GPS/manual capture.
	QRPayload string
	// At is the capture instant.
	At time.Time
}

// Coordinator merges geofence, QR and shift-window checks into a single
// verification decision.
//
// Pure decision function: no state is touched, so the UI may call it
// synchronously before anything is queued.
type Coordinator struct {
	sites  []Site
	qr     *QRValidator
	policy ShiftPolicy
}

// NewCoordinator builds a coordinator over the registered sites.
// A nil policy means no shift restriction.
func NewCoordinator(sites []Site, qr *QRValidator, policy ShiftPolicy) *Coordinator {
	if policy == nil {
		policy = AlwaysAllowed{}
	}
	return &Coordinator{sites: sites, qr: qr, policy: policy}
}

// Verify dispatches to the sub-checks the method requires and merges
// their results.
//
// Merge rule: isValid = (geofence, if the method requires one) AND
// (time window, from QR expiry or shift policy) AND no structural
// errors. When both location and time checks fail, the location
// message wins: "move closer" is the actionable signal, the user can
// do nothing about a closed window from the wrong place.
func (c *Coordinator) Verify(method attendance.Method, cap Capture) attendance.VerificationResult {
	switch method {
	case attendance.MethodGPS:
		return c.verifyGPS(cap)
	case attendance.MethodQR:
		return c.verifyQR(cap)
	case attendance.MethodManual:
		return c.applyPolicy(attendance.Valid(), cap)
	default:
		return attendance.Invalid(fmt.Sprintf("unknown capture method %q", method))
	}
}

func (c *Coordinator) verifyGPS(cap Capture) attendance.VerificationResult {
	if cap.Latitude == nil || cap.Longitude == nil {
		return attendance.Invalid("GPS fix unavailable")
	}
	if len(c.sites) == 0 {
		return attendance.Invalid("no registered locations")
	}

	// Match against the nearest site; diagnostics always carry the
	// best distance even on rejection.
	best := c.nearestSite(*cap.Latitude, *cap.Longitude)
	geo := VerifyLocation(*cap.Latitude, *cap.Longitude, best.Latitude, best.Longitude, best.RadiusMeters)

	res := attendance.Valid()
	res.LocationName = best.Name
	res.DistanceMeters = geo.DistanceMeters
	if !geo.IsWithinLocation {
		res.IsValid = false
		res.IsWithinLocation = false
		res.ErrorMessage = fmt.Sprintf("outside %s geofence: %.0fm away, %.0fm allowed",
			best.Name, geo.DistanceMeters, best.RadiusMeters)
		// Location failure takes precedence: report the shift window
		// state but keep the location message.
		if ok, _ := c.policy.Allows(cap.Action, cap.At); !ok {
			res.IsWithinTimeWindow = false
		}
		return res
	}

	return c.applyPolicy(res, cap)
}

func (c *Coordinator) verifyQR(cap Capture) attendance.VerificationResult {
	res := c.qr.Validate(cap.QRPayload, cap.At)
	if !res.IsValid {
		return res
	}

	// A QR scan accompanied by a GPS fix also gets the geofence check;
	// without a fix the geofence is not applicable, not failing.
	if cap.Latitude != nil && cap.Longitude != nil && len(c.sites) > 0 {
		geoRes := c.verifyGPS(cap)
		if !geoRes.IsValid {
			geoRes.QRData = res.QRData
			return geoRes
		}
		res.LocationName = geoRes.LocationName
		res.DistanceMeters = geoRes.DistanceMeters
	}

	return c.applyPolicy(res, cap)
}

// applyPolicy overlays the shift-window decision on a passing result.
func (c *Coordinator) applyPolicy(res attendance.VerificationResult, cap Capture) attendance.VerificationResult {
	if ok, reason := c.policy.Allows(cap.Action, cap.At); !ok {
		res.IsValid = false
		res.IsWithinTimeWindow = false
		if res.ErrorMessage == "" {
			res.ErrorMessage = reason
		}
	}
	return res
}

func (c *Coordinator) nearestSite(lat, lng float64) Site {
	best := c.sites[0]
	bestDist := Haversine(lat, lng, best.Latitude, best.Longitude)
	for _, s := range c.sites[1:] {
		if d := Haversine(lat, lng, s.Latitude, s.Longitude); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}
