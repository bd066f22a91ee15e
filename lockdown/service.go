package lockdown

import (
	"fmt"
)

type startServiceRequest struct {
	Label   string
	Request string
	Service string
}

// ServiceInfo describes the fresh MuxConnection a service client should
// open to reach the service StartService just started (spec §4.4
// StartService).
type ServiceInfo struct {
	Port             uint16
	EnableServiceSSL bool
}

type startServiceResponse struct {
	Request          string
	Service          string
	Port             uint16
	EnableServiceSSL bool
	Error            string
}

// StartService asks lockdownd to start name and returns the port the
// caller should open a new MuxConnection to, plus whether that new
// connection needs its own TLS handshake (spec §4.4, §6 service-client
// boundary).
func (c *Client) StartService(name string) (ServiceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp startServiceResponse
	req := startServiceRequest{Label: "idevice", Request: "StartService", Service: name}
	if err := c.request(req, &resp); err != nil {
		return ServiceInfo{}, err
	}
	if resp.Error != "" {
		if err := checkError(resp.Error); err != nil {
			return ServiceInfo{}, fmt.Errorf("lockdown: start service %q: %w", name, err)
		}
	}
	return ServiceInfo{Port: resp.Port, EnableServiceSSL: resp.EnableServiceSSL}, nil
}
