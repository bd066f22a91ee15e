package lockdown

import (
	"github.com/hexmux/idevice"
)

type queryTypeRequest struct {
	Label   string
	Request string
}

type queryTypeResponse struct {
	Request string
	Type    string
	Error   string
}

// wantedLockdownType is the only acceptable QueryType response value
// (spec §4.4: "Must return \"com.apple.mobile.lockdown\"").
const wantedLockdownType = "com.apple.mobile.lockdown"

// QueryType asks lockdownd to identify itself and drives Fresh ->
// Handshook on success.
func (c *Client) QueryType() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp queryTypeResponse
	if err := c.request(queryTypeRequest{Label: "idevice", Request: "QueryType"}, &resp); err != nil {
		return "", err
	}
	if err := checkError(resp.Error); err != nil {
		return "", err
	}
	if resp.Type != wantedLockdownType {
		return "", idevice.WrapDiagnostic(idevice.KindInvalidService, "unexpected QueryType response: "+resp.Type)
	}
	if c.state == StateFresh {
		c.state = StateHandshook
	}
	return resp.Type, nil
}

type getValueRequest struct {
	Label   string
	Request string
	Domain  string `plist:"Domain,omitempty"`
	Key     string `plist:"Key,omitempty"`
}

type getValueResponse struct {
	Request string
	Domain  string
	Key     string
	Value   interface{}
	Error   string
}

// GetValue fetches a single lockdown value. An empty key fetches every
// value in domain as a dict (spec §4.4, §8 scenario 3).
func (c *Client) GetValue(domain, key string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getValueLocked(domain, key)
}

type setValueRequest struct {
	Label   string
	Request string
	Domain  string      `plist:"Domain,omitempty"`
	Key     string      `plist:"Key,omitempty"`
	Value   interface{} `plist:"Value,omitempty"`
}

type setValueResponse struct {
	Request string
	Error   string
}

// SetValue writes a single lockdown value; only valid once Sessioned or
// Secured for the domains that require it.
func (c *Client) SetValue(domain, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp setValueResponse
	req := setValueRequest{Label: "idevice", Request: "SetValue", Domain: domain, Key: key, Value: value}
	if err := c.request(req, &resp); err != nil {
		return err
	}
	return checkError(resp.Error)
}
