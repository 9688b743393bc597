// Package providers implements the per-provider adapters behind the
// aviation capability interfaces: endpoint shapes, authentication,
// request pacing with failure backoff, and normalization of the
// providers' disagreeing payload schemas into canonical records.
package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/mstrella/skyfeed/pkg/aviation"
	"github.com/mstrella/skyfeed/pkg/credstore"
)

// Aircraft provider identifiers. These are the values persisted in the
// credential store and accepted by the factory functions.
const (
	// AircraftOpenSkyAnonymous is the OpenSky Network without
	// credentials. Generous data, harsh rate limits.
	AircraftOpenSkyAnonymous = "opensky-anonymous"

	// AircraftOpenSky is the OpenSky Network with OAuth2 client
	// credentials (or legacy Basic auth).
	AircraftOpenSky = "opensky"

	// AircraftFlightRadar is the paid unified feed covering both
	// aircraft positions and schedules.
	AircraftFlightRadar = "flightradar"

	// AircraftADSBExchange is the paid key-authenticated position feed.
	AircraftADSBExchange = "adsbexchange"
)

// Flight service identifiers. They alias the aircraft identifiers of
// the same services, so pacer defaults resolve through one switch.
const (
	FlightServiceOpenSky     = "opensky"
	FlightServiceFlightRadar = "flightradar"
)

// Reconfigurable is implemented by adapters that can swap credentials
// in place. Rate and backoff state survive the swap; any cached token
// does not.
type Reconfigurable interface {
	SetCredentials(creds credstore.Credentials) error
}

// DefaultPacerConfig returns the request spacing defaults for a
// provider identifier. These are tuning values, not contracts.
func DefaultPacerConfig(provider string) PacerConfig {
	switch provider {
	case AircraftOpenSkyAnonymous:
		return PacerConfig{BaseInterval: 10 * time.Second, FailureCap: 5, MaxBackoff: 300 * time.Second}
	case AircraftOpenSky:
		return PacerConfig{BaseInterval: time.Second, FailureCap: 5, MaxBackoff: 300 * time.Second}
	case AircraftFlightRadar:
		return PacerConfig{BaseInterval: time.Second, FailureCap: 5, MaxBackoff: 60 * time.Second}
	case AircraftADSBExchange:
		return PacerConfig{BaseInterval: 500 * time.Millisecond, FailureCap: 5, MaxBackoff: 60 * time.Second}
	default:
		return PacerConfig{BaseInterval: time.Second, FailureCap: 5, MaxBackoff: 60 * time.Second}
	}
}

// options collects cross-adapter construction knobs.
type options struct {
	httpClient      *http.Client
	baseURL         string
	tokenURL        string
	pacer           *PacerConfig
	requestsPerHour int
	fallbackWindows []FallbackWindow
}

// Option customizes an adapter at construction time.
type Option func(*options)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithBaseURL overrides the provider's API base URL.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithTokenURL overrides the OAuth2 token endpoint.
func WithTokenURL(u string) Option {
	return func(o *options) { o.tokenURL = u }
}

// WithPacerConfig overrides the default request spacing and backoff.
func WithPacerConfig(cfg PacerConfig) Option {
	return func(o *options) { o.pacer = &cfg }
}

// WithRequestsPerHour caps a paid adapter's hourly request budget.
// Zero disables the budget.
func WithRequestsPerHour(n int) Option {
	return func(o *options) { o.requestsPerHour = n }
}

// WithFallbackWindows overrides the historical windows retried when an
// arrivals query comes back empty.
func WithFallbackWindows(windows []FallbackWindow) Option {
	return func(o *options) { o.fallbackWindows = windows }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// defaultHTTPClient returns the transport shared by adapters that were
// not handed a custom client.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxConnsPerHost:     5,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// hourlyBudget builds a rate.Limiter for paid tiers metered per hour,
// or nil when no budget applies.
func hourlyBudget(requestsPerHour int) *rate.Limiter {
	if requestsPerHour <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerHour)/3600.0), 1)
}

// queryClass distinguishes the 404 policy: schedule queries treat 404
// as "no data", position queries treat it as a broken endpoint.
type queryClass int

const (
	classAircraft queryClass = iota
	classFlights
)

// restClient is the authenticated, paced request path shared by every
// adapter. Each adapter instance owns its own restClient; pacer and
// token state are never shared between instances.
type restClient struct {
	provider   string
	httpClient *http.Client
	pacer      *pacer
	auth       *authenticator
	budget     *rate.Limiter
}

// getJSON issues one authenticated, rate-limited GET and applies the
// uniform status-code policy. The boolean result is true for a
// schedule-query 404, which is "no data", not a failure.
func (c *restClient) getJSON(ctx context.Context, rawURL string, class queryClass, op string) ([]byte, bool, error) {
	return c.getJSONWithHeaders(ctx, rawURL, class, op, nil)
}

// getJSONWithHeaders is getJSON with extra per-provider request headers
// (API key headers and the like).
func (c *restClient) getJSONWithHeaders(ctx context.Context, rawURL string, class queryClass, op string, headers map[string]string) ([]byte, bool, error) {
	if c.budget != nil && !c.budget.Allow() {
		// Local budget, not a provider response: surfaced as rate
		// limited but the backoff counter is left alone.
		return nil, false, aviation.NewError(aviation.KindRateLimited, c.provider, op,
			"hourly request budget exhausted")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, aviation.WrapError(aviation.KindNetwork, c.provider, op, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if err := c.auth.authorize(ctx, req); err != nil {
		// A rejected token request counts against the backoff like a
		// data-endpoint 401.
		if aviation.IsKind(err, aviation.KindAuthenticationFailed) {
			c.pacer.RecordFailure()
		}
		return nil, false, err
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return nil, false, aviation.WrapError(aviation.KindNetwork, c.provider, op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.pacer.RecordFailure()
		return nil, false, aviation.WrapError(aviation.KindNetwork, c.provider, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.pacer.RecordFailure()
			return nil, false, aviation.WrapError(aviation.KindNetwork, c.provider, op, err)
		}
		c.pacer.RecordSuccess()
		return body, false, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.pacer.RecordFailure()
		return nil, false, aviation.NewError(aviation.KindAuthenticationFailed, c.provider, op,
			fmt.Sprintf("provider rejected credentials (status %d)", resp.StatusCode))

	case resp.StatusCode == http.StatusTooManyRequests:
		c.pacer.RecordFailure()
		return nil, false, aviation.NewError(aviation.KindRateLimited, c.provider, op,
			"provider rate limit exceeded (status 429)")

	case resp.StatusCode == http.StatusNotFound && class == classFlights:
		// Schedule endpoints answer 404 when a window holds no data.
		c.pacer.RecordSuccess()
		return nil, true, nil

	default:
		c.pacer.RecordFailure()
		return nil, false, aviation.NewError(aviation.KindNetwork, c.provider, op,
			fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
}

// NewAircraftSource constructs the adapter for an aircraft provider
// identifier and attaches the given credentials. The returned adapter
// starts with clean rate, backoff and token state.
func NewAircraftSource(provider string, creds credstore.Credentials, opts ...Option) (aviation.AircraftSource, error) {
	switch provider {
	case AircraftOpenSkyAnonymous:
		return newOpenSkyAdapter(provider, creds, false, opts)
	case AircraftOpenSky:
		return newOpenSkyAdapter(provider, creds, true, opts)
	case AircraftFlightRadar:
		return newFlightRadarAdapter(provider, creds, opts)
	case AircraftADSBExchange:
		return newADSBExchangeAdapter(creds, opts)
	default:
		return nil, aviation.NewError(aviation.KindInvalidInput, provider, "construct adapter",
			"unknown aircraft provider "+provider)
	}
}

// NewFlightSource constructs the adapter for a flight service
// identifier and attaches the given credentials.
func NewFlightSource(service string, creds credstore.Credentials, opts ...Option) (aviation.FlightSource, error) {
	switch service {
	case FlightServiceOpenSky:
		// The free service works anonymously; credentials upgrade the
		// rate limits when present.
		return newOpenSkyAdapter(service, creds, false, opts)
	case FlightServiceFlightRadar:
		return newFlightRadarAdapter(service, creds, opts)
	default:
		return nil, aviation.NewError(aviation.KindInvalidInput, service, "construct adapter",
			"unknown flight service "+service)
	}
}
