// Package remote talks to an idevicedesk server running on another machine.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"idevicedesk/logs"
	"idevicedesk/models"

	"github.com/sirupsen/logrus"
)

// ErrStatus is wrapped by errors for non-2xx answers without an error body
var ErrStatus = errors.New("unexpected HTTP status")

// Client implements the session backend over the server's HTTP API. It is
// also the capability probe: the backend counts as available while the
// server answers /health.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	log     *logrus.Entry
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     logs.Logger.WithField("component", "remote"),
	}
}

// Probe reports whether the server answers its health check in time
func (c *Client) Probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).Debug("Remote backend unreachable")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) GetDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := c.get(ctx, "/api/devices", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (c *Client) GetDeviceInfo(ctx context.Context, udid string) (models.DeviceInfo, error) {
	var info models.DeviceInfo
	if err := c.get(ctx, "/api/devices/"+url.PathEscape(udid)+"/info", &info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	env := models.Envelope[json.RawMessage]{}
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && env.Error != "" {
			return fmt.Errorf("GET %s: %s", path, env.Error)
		}
		return fmt.Errorf("GET %s: %w: %d", path, ErrStatus, resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("GET %s: decode response: %w", path, decodeErr)
	}
	if !env.Success {
		return fmt.Errorf("GET %s: %s", path, env.Error)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("GET %s: decode data: %w", path, err)
	}
	return nil
}
