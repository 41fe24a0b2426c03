package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotops/presence/internal/attendance"
)

func TestWriteExport_Golden(t *testing.T) {
	lat, lng := -6.2, 106.816666
	entries := []attendance.QueueEntry{
		{
			ID:           "0195f3a0-0000-7000-8000-000000000001",
			UserID:       "user-7",
			Action:       attendance.ActionCheckIn,
			Method:       attendance.MethodGPS,
			Timestamp:    time.Date(2026, 3, 2, 8, 58, 12, 0, time.UTC),
			Latitude:     &lat,
			Longitude:    &lng,
			LocationName: "Head Office",
			Status:       attendance.StatusFailed,
			RetryCount:   5,
			LastError:    "post checkin: status 500: upstream unavailable",
			CreatedAt:    time.Date(2026, 3, 2, 8, 58, 12, 0, time.UTC),
		},
		{
			ID:        "0195f3a0-0000-7000-8000-000000000002",
			UserID:    "user-7",
			Action:    attendance.ActionCheckOut,
			Method:    attendance.MethodQR,
			Timestamp: time.Date(2026, 3, 2, 17, 4, 40, 0, time.UTC),
			QRPayload: "DOT_QR|checkout|1772470800|site-hq",
			Status:    attendance.StatusFailed,
			LastError: "post checkout: status 422: unknown site",
			CreatedAt: time.Date(2026, 3, 2, 17, 4, 41, 0, time.UTC),
		},
	}

	buf := &bytes.Buffer{}
	require.NoError(t, writeExport(buf, entries))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "failed_entries", buf.Bytes())
}

func TestWriteExport_EmptyQueueIsArray(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, writeExport(buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}
