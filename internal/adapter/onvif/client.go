// Package onvif is a minimal ONVIF event-service client: device capability
// discovery and a PullPoint subscription, spoken as SOAP 1.2 over HTTP with
// WS-Security UsernameToken digest authentication.
package onvif

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Subscription is one PullPoint subscription on the camera.
type Subscription interface {
	SetSynchronizationPoint(ctx context.Context) error
	PullMessages(ctx context.Context, timeout time.Duration, limit int) ([]NotificationMessage, error)
	Renew(ctx context.Context, lease time.Duration) error
	Unsubscribe(ctx context.Context) error
	Address() string
}

// Client talks to one camera.
type Client struct {
	deviceURL string
	creds     credentials
	http      *http.Client
	now       func() time.Time

	mu        sync.Mutex
	eventsURL string
}

type ClientOption func(*Client)

// WithHTTPClient replaces the transport, e.g. for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithDeviceURL overrides the default http://host:port/onvif/device_service.
func WithDeviceURL(url string) ClientOption {
	return func(c *Client) { c.deviceURL = url }
}

func NewClient(host string, port int, username, password string, opts ...ClientOption) *Client {
	c := &Client{
		deviceURL: "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/onvif/device_service",
		creds:     credentials{username: username, password: password},
		http:      &http.Client{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect discovers the event service address via GetCapabilities.
func (c *Client) Connect(ctx context.Context) error {
	var resp getCapabilitiesResponse
	body := `<tds:GetCapabilities><tds:Category>Events</tds:Category></tds:GetCapabilities>`
	if err := call(ctx, c.http, c.creds, c.now(), c.deviceURL, actionGetCapabilities, body, &resp); err != nil {
		return fmt.Errorf("get capabilities: %w", err)
	}

	addr := resp.Capabilities.Events.XAddr
	if addr == "" {
		return ErrNoEventService
	}

	c.mu.Lock()
	c.eventsURL = addr
	c.mu.Unlock()
	return nil
}

// EventServiceAddress returns the address discovered by Connect.
func (c *Client) EventServiceAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventsURL
}

// CreatePullPoint opens a subscription with the given initial lease.
func (c *Client) CreatePullPoint(ctx context.Context, lease time.Duration) (Subscription, error) {
	eventsURL := c.EventServiceAddress()
	if eventsURL == "" {
		return nil, ErrNoEventService
	}

	var resp createPullPointSubscriptionResponse
	body := `<tev:CreatePullPointSubscription><tev:InitialTerminationTime>` +
		isoDuration(lease) +
		`</tev:InitialTerminationTime></tev:CreatePullPointSubscription>`
	if err := call(ctx, c.http, c.creds, c.now(), eventsURL, actionCreatePullPoint, body, &resp); err != nil {
		return nil, fmt.Errorf("create pull point: %w", err)
	}

	addr := resp.SubscriptionReference.Address
	if addr == "" {
		return nil, fmt.Errorf("create pull point: empty subscription address")
	}

	p := &PullPoint{client: c, address: addr}
	if t, ok := parseTime(resp.TerminationTime); ok {
		p.terminationTime = t
	}
	return p, nil
}

// PullPoint is the concrete Subscription.
type PullPoint struct {
	client  *Client
	address string

	mu              sync.Mutex
	terminationTime time.Time
}

var _ Subscription = (*PullPoint)(nil)

func (p *PullPoint) Address() string { return p.address }

// TerminationTime is the lease end last reported by the camera.
func (p *PullPoint) TerminationTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminationTime
}

func (p *PullPoint) do(ctx context.Context, action, body string, out any) error {
	c := p.client
	return call(ctx, c.http, c.creds, c.now(), p.address, action, body, out)
}

func (p *PullPoint) SetSynchronizationPoint(ctx context.Context) error {
	if err := p.do(ctx, actionSetSynchronizationPoint, `<tev:SetSynchronizationPoint/>`, nil); err != nil {
		return fmt.Errorf("set synchronization point: %w", err)
	}
	return nil
}

// PullMessages waits up to timeout for at most limit notifications.
// A SOAP fault here means the subscription is gone and is reported as ErrSubscriptionLost.
func (p *PullPoint) PullMessages(ctx context.Context, timeout time.Duration, limit int) ([]NotificationMessage, error) {
	body := `<tev:PullMessages><tev:Timeout>` + isoDuration(timeout) +
		`</tev:Timeout><tev:MessageLimit>` + strconv.Itoa(limit) +
		`</tev:MessageLimit></tev:PullMessages>`

	var resp pullMessagesResponse
	if err := p.do(ctx, actionPullMessages, body, &resp); err != nil {
		var fault *Fault
		if errors.As(err, &fault) {
			return nil, fmt.Errorf("pull messages: %w: %w", ErrSubscriptionLost, fault)
		}
		return nil, fmt.Errorf("pull messages: %w", err)
	}

	if t, ok := parseTime(resp.TerminationTime); ok {
		p.mu.Lock()
		p.terminationTime = t
		p.mu.Unlock()
	}
	return resp.NotificationMessage, nil
}

// Renew extends the lease in place.
func (p *PullPoint) Renew(ctx context.Context, lease time.Duration) error {
	body := `<wsnt:Renew><wsnt:TerminationTime>` + isoDuration(lease) + `</wsnt:TerminationTime></wsnt:Renew>`

	var resp renewResponse
	if err := p.do(ctx, actionRenew, body, &resp); err != nil {
		return fmt.Errorf("renew: %w", err)
	}
	if t, ok := parseTime(resp.TerminationTime); ok {
		p.mu.Lock()
		p.terminationTime = t
		p.mu.Unlock()
	}
	return nil
}

func (p *PullPoint) Unsubscribe(ctx context.Context) error {
	if err := p.do(ctx, actionUnsubscribe, `<wsnt:Unsubscribe/>`, nil); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}
