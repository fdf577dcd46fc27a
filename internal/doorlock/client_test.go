package doorlock_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"absensi/internal/doorlock"
)

func newClient(baseURL string) *doorlock.Client {
	return doorlock.New(doorlock.Config{
		BaseURL: baseURL,
		Token:   "secret-token",
		Delay:   5,
		Enabled: true,
		Timeout: 2 * time.Second,
	})
}

func TestTriggerOpen_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"door":"open"}`))
	}))
	defer srv.Close()

	out := newClient(srv.URL).TriggerOpen(context.Background(), "E001", "masuk")

	assert.True(t, out.Success)
	assert.Equal(t, http.StatusOK, out.HTTPStatus)
	assert.Empty(t, out.Err)
	assert.Equal(t, "/door/open", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "secret-token", gotBody["token"])
	assert.Equal(t, "E001", gotBody["kode"])
	assert.Equal(t, "masuk", gotBody["status"])
	assert.Equal(t, float64(5), gotBody["delay"])
}

func TestTriggerOpen_Non200IsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("bad token"))
	}))
	defer srv.Close()

	out := newClient(srv.URL).TriggerOpen(context.Background(), "E001", "masuk")

	assert.False(t, out.Success)
	assert.Equal(t, http.StatusForbidden, out.HTTPStatus)
	assert.Equal(t, "bad token", out.Body)
}

func TestTriggerOpen_BodyTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	out := newClient(srv.URL).TriggerOpen(context.Background(), "E001", "masuk")

	assert.False(t, out.Success)
	assert.Len(t, out.Body, 200)
}

func TestTriggerOpen_UnreachableDevice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	out := newClient(srv.URL).TriggerOpen(context.Background(), "E001", "masuk")

	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Err)
	assert.Zero(t, out.HTTPStatus)
}

func TestTriggerOpen_Disabled(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := doorlock.New(doorlock.Config{BaseURL: srv.URL, Token: "t", Enabled: false})
	out := client.TriggerOpen(context.Background(), "E001", "masuk")

	assert.False(t, out.Success)
	assert.Equal(t, "doorlock disabled", out.Err)
	assert.False(t, called, "disabled client must not reach the device")
}

func TestOpenManual_DelayClamped(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out := newClient(srv.URL).OpenManual(context.Background(), 99)

	assert.True(t, out.Success)
	assert.Equal(t, float64(30), gotBody["delay"])
	_, hasKode := gotBody["kode"]
	assert.False(t, hasKode, "manual open carries no employee context")
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.True(t, newClient(srv.URL).Health(context.Background()))

	srv.Close()
	assert.False(t, newClient(srv.URL).Health(context.Background()))
}
