package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"idevicedesk/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", time.Second)
}

func TestGetDevices(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices", r.URL.Path)
		w.Write([]byte(`{"success":true,"data":[{"udid":"a","name":"A","model":"iPhone13,1","status":"connected"}]}`))
	})

	devices, err := c.GetDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Device{{UDID: "a", Name: "A", Model: "iPhone13,1", Status: "connected"}}, devices)
}

func TestGetDevices_NullData(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":null}`))
	})

	devices, err := c.GetDevices(context.Background())
	require.NoError(t, err)
	assert.Nil(t, devices)
}

func TestGetDeviceInfo_EscapesUDID(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices/a%2Fb/info", r.URL.EscapedPath())
		w.Write([]byte(`{"success":true,"data":{"Battery":"80%"}}`))
	})

	info, err := c.GetDeviceInfo(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceInfo{"Battery": "80%"}, info)
}

func TestErrors(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/devices":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"success":false,"error":"tools missing"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})

	_, err := c.GetDevices(context.Background())
	assert.ErrorContains(t, err, "tools missing")

	_, err = c.GetDeviceInfo(context.Background(), "x")
	assert.ErrorIs(t, err, ErrStatus)
}

func TestUnsuccessfulEnvelope(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"device busy"}`))
	})
	_, err := c.GetDeviceInfo(context.Background(), "x")
	assert.ErrorContains(t, err, "device busy")
}

func TestProbe(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Write([]byte(`{"status":"ok"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	assert.True(t, c.Probe())

	assert.False(t, NewClient("http://127.0.0.1:1", 100*time.Millisecond).Probe())
}

func TestContextCancel(t *testing.T) {
	release := make(chan struct{})
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetDevices(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
