package automation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/config"
	"homeflow/pkg/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestHTTPSyncer_Activate(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/services/automation/turn_on", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSyncer(srv.URL+"/", "secret", time.Second, fastPolicy())
	err := s.Activate(context.Background(), &Automation{ID: "a1", PlatformAutomationID: "hall_lights"})
	require.NoError(t, err)
	assert.Equal(t, "automation.hall_lights", got["entity_id"])
}

func TestHTTPSyncer_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSyncer(srv.URL, "", time.Second, fastPolicy())
	require.NoError(t, s.Deactivate(context.Background(), &Automation{ID: "a1"}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPSyncer_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewHTTPSyncer(srv.URL, "bad", time.Second, fastPolicy())
	err := s.Activate(context.Background(), &Automation{ID: "a1"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPSyncer_RemoveToleratesMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/config/automation/config/a1", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewHTTPSyncer(srv.URL, "", time.Second, fastPolicy())
	assert.NoError(t, s.Remove(context.Background(), &Automation{ID: "a1"}))
}

func TestNewPlatformSyncer_DisabledIsNoop(t *testing.T) {
	s := NewPlatformSyncer(config.PlatformConfig{Enabled: false, BaseURL: "http://example"})
	assert.IsType(t, NoopSyncer{}, s)
}
