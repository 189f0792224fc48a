package telemetry

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "telemetry.db"), "test")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigratesAndStartsSession(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	v, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)
	assert.Len(t, s.Session(), 36)

	require.NoError(t, s.MigrateUp(), "migrating an up-to-date db is a no-op")
}

func TestOpen_NewSessionEachTime(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "telemetry.db")
	ctx := context.Background()

	a, err := Open(ctx, path, "test")
	require.NoError(t, err)
	first := a.Session()
	require.NoError(t, a.Close())

	b, err := Open(ctx, path, "test")
	require.NoError(t, err)
	defer b.Close()
	assert.NotEqual(t, first, b.Session())

	var ended sql.NullTime
	require.NoError(t, b.QueryRow(`SELECT ended_at FROM sessions WHERE session_id = ?`, first).Scan(&ended))
	assert.True(t, ended.Valid)
}

func TestInsertCycles_RoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var in []CycleSample
	for i := 1; i <= 5; i++ {
		in = append(in, CycleSample{
			Cycle: uint64(i), At: at.Add(time.Duration(i) * 33 * time.Millisecond),
			Trav: float64(i), Heading: 10, Lift: 14.5, Battery: 80, Errors: uint64(i % 2),
		})
	}
	require.NoError(t, s.InsertCycles(ctx, in))
	require.NoError(t, s.InsertCycles(ctx, nil))

	got, err := s.RecentCycles(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(5), got[0].Cycle)
	assert.Equal(t, 5.0, got[0].Trav)
	assert.Equal(t, uint64(1), got[0].Errors)
	assert.WithinDuration(t, in[4].At, got[0].At, time.Microsecond)

	// a repeated cycle number replaces the row
	require.NoError(t, s.InsertCycles(ctx, []CycleSample{{Cycle: 5, At: at, Trav: 99}}))
	got, err = s.RecentCycles(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 99.0, got[0].Trav)
}

func TestCalibration_Upsert(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCalibration(ctx, "vmax_observed", 12.6))
	require.NoError(t, s.SaveCalibration(ctx, "vmax_observed", 12.9))
	cal, err := s.Calibrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"vmax_observed": 12.9}, cal)
}

func TestMapSnapshots(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.LatestMapSnapshot(ctx)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	_, err = s.SaveMapSnapshot(ctx, "manual", nil)
	assert.Error(t, err)

	id1, err := s.SaveMapSnapshot(ctx, "manual", []byte{1, 2, 3})
	require.NoError(t, err)
	id2, err := s.SaveMapSnapshot(ctx, "shutdown", []byte{4, 5})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	id, blob, err := s.LatestMapSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, id2, id)
	assert.Equal(t, []byte{4, 5}, blob)
}

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	require.NoError(t, s.InsertCycles(context.Background(), []CycleSample{{Cycle: 1, At: time.Now()}}))

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/cycles?n=5", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cycle":1`)
}
