package verify

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotops/presence/internal/attendance"
)

var (
	officeMain = Site{
		ID:           "office-main",
		Name:         "Main Office",
		Latitude:     37.5665,
		Longitude:    126.9780,
		RadiusMeters: 100,
	}
	officeAnnex = Site{
		ID:           "office-annex",
		Name:         "Annex",
		Latitude:     37.5700,
		Longitude:    126.9900,
		RadiusMeters: 50,
	}
)

// denyPolicy rejects everything, for forcing time-window failures.
type denyPolicy struct{}

func (denyPolicy) Allows(attendance.ActionType, time.Time) (bool, string) {
	return false, "outside shift window"
}

func newTestCoordinator(policy ShiftPolicy) *Coordinator {
	qr := NewQRValidator("DOT_QR", 5*time.Minute)
	return NewCoordinator([]Site{officeMain, officeAnnex}, qr, policy)
}

func ptr(f float64) *float64 { return &f }

func capAt(lat, lng float64, at time.Time) Capture {
	return Capture{
		Action:    attendance.ActionCheckIn,
		Latitude:  ptr(lat),
		Longitude: ptr(lng),
		At:        at,
	}
}

func TestCoordinator_GPSWithinGeofence(t *testing.T) {
	c := newTestCoordinator(nil)
	now := time.Now()

	// ~25m from the main office center.
	res := c.Verify(attendance.MethodGPS, capAt(officeMain.Latitude+25.0/111194.93, officeMain.Longitude, now))

	require.True(t, res.IsValid)
	assert.True(t, res.IsWithinLocation)
	assert.Equal(t, "Main Office", res.LocationName)
	assert.InDelta(t, 25.0, res.DistanceMeters, 0.1)
}

func TestCoordinator_GPSOutsideGeofence(t *testing.T) {
	c := newTestCoordinator(nil)

	res := c.Verify(attendance.MethodGPS, capAt(37.60, 127.05, time.Now()))

	assert.False(t, res.IsValid)
	assert.False(t, res.IsWithinLocation)
	assert.Contains(t, res.ErrorMessage, "geofence")
	assert.Greater(t, res.DistanceMeters, 100.0)
}

func TestCoordinator_GPSMatchesNearestSite(t *testing.T) {
	c := newTestCoordinator(nil)

	// Right on top of the annex.
	res := c.Verify(attendance.MethodGPS, capAt(officeAnnex.Latitude, officeAnnex.Longitude, time.Now()))

	require.True(t, res.IsValid)
	assert.Equal(t, "Annex", res.LocationName)
}

func TestCoordinator_GPSWithoutFix(t *testing.T) {
	c := newTestCoordinator(nil)

	res := c.Verify(attendance.MethodGPS, Capture{Action: attendance.ActionCheckIn, At: time.Now()})

	assert.False(t, res.IsValid)
	assert.Equal(t, "GPS fix unavailable", res.ErrorMessage)
}

func TestCoordinator_QRValidNoGPS(t *testing.T) {
	// Geofence is not applicable without a fix: the QR check alone
	// decides, and location stays true.
	c := newTestCoordinator(nil)
	now := time.Now()

	res := c.Verify(attendance.MethodQR, Capture{
		Action:    attendance.ActionCheckIn,
		QRPayload: fmt.Sprintf("DOT_QR|checkin|%d|office-main", now.UnixMilli()),
		At:        now,
	})

	require.True(t, res.IsValid)
	assert.True(t, res.IsWithinLocation)
	assert.Equal(t, "office-main", res.QRData["location_id"])
}

func TestCoordinator_QRWithGPSRunsGeofence(t *testing.T) {
	c := newTestCoordinator(nil)
	now := time.Now()

	cap := capAt(37.60, 127.05, now) // far from every site
	cap.QRPayload = fmt.Sprintf("DOT_QR|checkin|%d|office-main", now.UnixMilli())

	res := c.Verify(attendance.MethodQR, cap)

	assert.False(t, res.IsValid)
	assert.False(t, res.IsWithinLocation)
	// The audit trail from the QR parse survives the geo rejection.
	assert.Equal(t, "office-main", res.QRData["location_id"])
}

func TestCoordinator_LocationFailureTakesPrecedence(t *testing.T) {
	// Both geofence and shift window fail: the location message is the
	// one surfaced, with the window flag still reported.
	c := newTestCoordinator(denyPolicy{})

	res := c.Verify(attendance.MethodGPS, capAt(37.60, 127.05, time.Now()))

	assert.False(t, res.IsValid)
	assert.False(t, res.IsWithinLocation)
	assert.False(t, res.IsWithinTimeWindow)
	assert.Contains(t, res.ErrorMessage, "geofence")
	assert.NotContains(t, res.ErrorMessage, "shift window")
}

func TestCoordinator_ManualMethodUsesPolicyOnly(t *testing.T) {
	now := time.Now()

	allowed := newTestCoordinator(nil).Verify(attendance.MethodManual, Capture{Action: attendance.ActionCheckIn, At: now})
	require.True(t, allowed.IsValid)

	denied := newTestCoordinator(denyPolicy{}).Verify(attendance.MethodManual, Capture{Action: attendance.ActionCheckIn, At: now})
	assert.False(t, denied.IsValid)
	assert.False(t, denied.IsWithinTimeWindow)
	assert.True(t, denied.IsWithinLocation, "no geofence ran, location stays not-applicable")
	assert.Equal(t, "outside shift window", denied.ErrorMessage)
}

func TestCoordinator_ExpiredQRTenMinutesOld(t *testing.T) {
	c := newTestCoordinator(nil)
	now := time.Now()

	res := c.Verify(attendance.MethodQR, Capture{
		Action:    attendance.ActionCheckIn,
		QRPayload: fmt.Sprintf("DOT_QR|checkin|%d|office-main", now.Add(-10*time.Minute).UnixMilli()),
		At:        now,
	})

	assert.False(t, res.IsValid)
	assert.Equal(t, "QR expired", res.ErrorMessage)
}

func TestCoordinator_UnknownMethod(t *testing.T) {
	c := newTestCoordinator(nil)

	res := c.Verify(attendance.Method("nfc"), Capture{At: time.Now()})

	assert.False(t, res.IsValid)
	assert.Contains(t, res.ErrorMessage, "unknown capture method")
}

func TestCoordinator_NoRegisteredSites(t *testing.T) {
	c := NewCoordinator(nil, NewQRValidator("DOT_QR", 5*time.Minute), nil)

	res := c.Verify(attendance.MethodGPS, capAt(37.5665, 126.9780, time.Now()))

	assert.False(t, res.IsValid)
	assert.Equal(t, "no registered locations", res.ErrorMessage)
}
