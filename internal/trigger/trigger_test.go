package trigger_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/requestid"
	"github.com/ErlanBelekov/reminder-dispatch/internal/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newServer(t *testing.T, status int, body string) (*httptest.Server, *[]string) {
	t.Helper()
	var secrets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		secrets = append(secrets, r.Header.Get("X-Tick-Secret"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &secrets
}

func TestFire_Success(t *testing.T) {
	srv, secrets := newServer(t, http.StatusOK,
		`{"ok":true,"tick_id":"tick-1","claimed":3,"sent":2,"failed":0,"skipped":1,"duration_ms":12}`)

	c := trigger.NewClient(srv.URL, "s3cret", srv.Client(), discardLogger)
	res, err := c.Fire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"s3cret"}, *secrets)
	assert.Equal(t, "tick-1", res.TickID)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Skipped)
}

func TestFire_ForwardsRequestID(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
		_, _ = io.WriteString(w, `{"ok":true,"tick_id":"tick-3"}`)
	}))
	t.Cleanup(srv.Close)

	ctx := requestid.WithRequestID(context.Background(), "fire-1")
	_, err := trigger.NewClient(srv.URL, "s3cret", srv.Client(), discardLogger).Fire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fire-1", got)
}

func TestFire_ServerErrorKeepsResult(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError,
		`{"ok":false,"tick_id":"tick-2","claimed":0,"sent":0,"failed":0,"skipped":0,"duration_ms":3,"error":"claim: db down"}`)

	res, err := trigger.NewClient(srv.URL, "s3cret", srv.Client(), discardLogger).Fire(context.Background())
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "tick-2", res.TickID)
	assert.Contains(t, err.Error(), "claim: db down")
}

func TestFire_Unauthorized(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized, `{"ok":false,"error":"unauthorized"}`)

	_, err := trigger.NewClient(srv.URL, "wrong", srv.Client(), discardLogger).Fire(context.Background())
	assert.ErrorIs(t, err, trigger.ErrUnauthorized)
}

func TestFire_GarbageBody(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadGateway, `<html>bad gateway</html>`)

	_, err := trigger.NewClient(srv.URL, "s3cret", srv.Client(), discardLogger).Fire(context.Background())
	assert.ErrorContains(t, err, "status 502")
}

func TestSchedule_RejectsBadSpec(t *testing.T) {
	c := trigger.NewClient("http://localhost", "s3cret", http.DefaultClient, discardLogger)

	_, err := c.Schedule("every minute please", time.Minute)
	assert.Error(t, err)

	cr, err := c.Schedule("@every 1m", time.Minute)
	require.NoError(t, err)
	assert.Len(t, cr.Entries(), 1)
}
