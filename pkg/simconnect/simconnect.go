// Package simconnect provides a client for a SimConnect HTTP bridge.
//
// Microsoft Flight Simulator exposes telemetry through the SimConnect IPC
// protocol, which is only reachable in-process on the simulator host. The
// bridge re-exposes it as a small REST API: one endpoint toggling the
// simulator link and one keyed read endpoint for simulator variables.
package simconnect

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Simulator variable names understood by the bridge. These follow the
// SimConnect simulation variable naming scheme.
const (
	VarLatitude      = "PLANE_LATITUDE"
	VarLongitude     = "PLANE_LONGITUDE"
	VarAltitude      = "PLANE_ALTITUDE"
	VarHeading       = "PLANE_HEADING_DEGREES_MAGNETIC"
	VarAirspeed      = "AIRSPEED_TRUE"
	VarGroundSpeed   = "GROUND_VELOCITY"
	VarVerticalSpeed = "VERTICAL_SPEED"
	VarTitle         = "TITLE"
	VarATCID         = "ATC_ID"
)

// Client talks to a SimConnect bridge over HTTP.
type Client struct {
	// baseURL is the bridge address (e.g., "http://localhost:8620")
	baseURL string

	// clientID identifies this client instance to the bridge.
	// Generated at client creation so concurrent clients stay distinct.
	clientID int

	// httpClient is the HTTP client used for API requests
	httpClient *http.Client

	// connected tracks if the bridge link has been opened.
	// Atomic: variable reads and Disconnect run on different goroutines.
	connected atomic.Bool
}

// NewClient creates a new SimConnect bridge client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: generateClientID(),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// generateClientID creates a unique client ID for this bridge session.
func generateClientID() int {
	return int(time.Now().Unix() % 2147483647)
}

// Connect asks the bridge to open its simulator link.
// Must be called before any variable reads.
// Implements: PUT /api/v1/simconnect/connected
func (c *Client) Connect() error {
	params := url.Values{}
	params.Add("Connected", "true")
	params.Add("ClientID", strconv.Itoa(c.clientID))

	resp, err := c.put("connected", params)
	if err != nil {
		return fmt.Errorf("failed to connect to simulator: %w", err)
	}
	if err := resp.Error(); err != nil {
		return err
	}

	c.connected.Store(true)
	return nil
}

// Disconnect closes the bridge's simulator link.
// Calling it while already disconnected is a no-op.
// Implements: PUT /api/v1/simconnect/connected
func (c *Client) Disconnect() error {
	if !c.connected.Load() {
		return nil
	}

	params := url.Values{}
	params.Add("Connected", "false")
	params.Add("ClientID", strconv.Itoa(c.clientID))

	resp, err := c.put("connected", params)
	if err != nil {
		return fmt.Errorf("failed to disconnect from simulator: %w", err)
	}

	c.connected.Store(false)
	return resp.Error()
}

// IsConnected reports whether the simulator link has been opened.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Get reads a single simulator variable by name.
// A nil result with a nil error means the simulator currently has no value
// for that variable (e.g., no flight loaded).
// Implements: GET /api/v1/simconnect/simvar/{name}
func (c *Client) Get(name string) (any, error) {
	if !c.connected.Load() {
		return nil, fmt.Errorf("simulator not connected")
	}

	resp, err := c.get("simvar/" + url.PathEscape(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	return resp.Value, nil
}

// get performs an HTTP GET request to a bridge endpoint.
func (c *Client) get(endpoint string) (*bridgeResponse, error) {
	apiURL := fmt.Sprintf("%s/api/v1/simconnect/%s", c.baseURL, endpoint)

	params := url.Values{}
	params.Add("ClientID", strconv.Itoa(c.clientID))

	resp, err := c.httpClient.Get(fmt.Sprintf("%s?%s", apiURL, params.Encode()))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var bridgeResp bridgeResponse
	if err := parseBridgeResponse(resp.Body, &bridgeResp); err != nil {
		return nil, err
	}

	return &bridgeResp, nil
}

// put performs an HTTP PUT request to a bridge endpoint.
func (c *Client) put(endpoint string, params url.Values) (*bridgeResponse, error) {
	apiURL := fmt.Sprintf("%s/api/v1/simconnect/%s", c.baseURL, endpoint)

	req, err := http.NewRequest(http.MethodPut, apiURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var bridgeResp bridgeResponse
	if err := parseBridgeResponse(resp.Body, &bridgeResp); err != nil {
		return nil, err
	}

	return &bridgeResp, nil
}

// bridgeResponse represents the standard bridge API response format.
type bridgeResponse struct {
	// Value contains the response data (type varies by variable;
	// null means the simulator has no value)
	Value any `json:"Value"`

	// ErrorNumber is non-zero if an error occurred
	ErrorNumber int `json:"ErrorNumber"`

	// ErrorMessage describes the error if ErrorNumber is non-zero
	ErrorMessage string `json:"ErrorMessage"`
}

// Error returns an error if the bridge response indicates failure.
func (r *bridgeResponse) Error() error {
	if r.ErrorNumber != 0 {
		return fmt.Errorf("simconnect error %d: %s", r.ErrorNumber, r.ErrorMessage)
	}
	return nil
}

// parseBridgeResponse parses a bridge JSON response from an io.Reader.
func parseBridgeResponse(body io.Reader, resp *bridgeResponse) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}
