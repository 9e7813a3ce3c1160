// Package httpsource lists and fetches resources from a remote HTTP API.
//
// The API exposes, per tenant:
//
//	GET {base}/tenants/{tenant}/resources        → {"resources":[{"id","modified","metadata"}]}
//	GET {base}/tenants/{tenant}/resources/{id}   → raw payload
//
// A strong ETag on the payload response is used as the checksum; without one
// the body is hashed with SHA-256. Requests are rate limited and transient
// failures (network errors, 429, 5xx) are retried with exponential backoff.
package httpsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/internal/httpclient"
	"github.com/teranos/resourcewatch/logger"
	"github.com/teranos/resourcewatch/watch"
)

// maxPayloadBytes caps a single fetched payload.
const maxPayloadBytes = 64 << 20

// Config configures a Source.
type Config struct {
	BaseURL             string
	Token               string // sent as a bearer token when set
	Timeout             time.Duration
	RequestsPerSecond   float64 // zero disables rate limiting
	Burst               int
	RetryInitialBackoff time.Duration
	RetryMaxElapsed     time.Duration // zero disables retries
	AllowPrivate        bool
}

// DefaultConfig returns conservative client settings.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		RequestsPerSecond:   10,
		Burst:               5,
		RetryInitialBackoff: 500 * time.Millisecond,
		RetryMaxElapsed:     2 * time.Minute,
	}
}

// Source talks to one remote API.
type Source struct {
	cfg     Config
	base    *url.URL
	client  *httpclient.Client
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// New validates cfg and creates a Source.
func New(cfg Config, log *zap.SugaredLogger) (*Source, error) {
	client := httpclient.New(httpclient.Options{
		Timeout:      cfg.Timeout,
		AllowPrivate: cfg.AllowPrivate,
	})
	base, err := client.ValidateURL(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid base url %q", cfg.BaseURL)
	}
	if log == nil {
		log = logger.Logger
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Source{
		cfg:     cfg,
		base:    base,
		client:  client,
		limiter: limiter,
		log:     log.With(logger.FieldComponent, "httpsource", logger.FieldURL, base.String()),
	}, nil
}

type listing struct {
	Resources []struct {
		ID       string         `json:"id"`
		Modified time.Time      `json:"modified"`
		Metadata map[string]any `json:"metadata,omitempty"`
	} `json:"resources"`
}

// List fetches the tenant listing.
func (s *Source) List(ctx context.Context, tenant string) ([]watch.ResourceDescriptor, error) {
	body, _, err := s.get(ctx, s.endpoint(tenant))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "list tenant %s", tenant), errors.ErrSourceUnavailable)
	}

	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to decode listing"), errors.ErrSourceUnavailable)
	}

	out := make([]watch.ResourceDescriptor, 0, len(l.Resources))
	for _, r := range l.Resources {
		if r.ID == "" {
			return nil, errors.Mark(errors.New("listing entry without id"), errors.ErrSourceUnavailable)
		}
		out = append(out, watch.ResourceDescriptor{
			ResourceID: r.ID,
			Modified:   r.Modified.UTC(),
			Metadata:   r.Metadata,
		})
	}
	return out, nil
}

// Fetch downloads one payload.
func (s *Source) Fetch(ctx context.Context, tenant, resourceID string) (*watch.Payload, error) {
	body, header, err := s.get(ctx, s.endpoint(tenant, resourceID))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "fetch %s", resourceID), errors.ErrFetchFailed)
	}
	checksum := strongETag(header.Get("ETag"))
	if checksum == "" {
		sum := sha256.Sum256(body)
		checksum = hex.EncodeToString(sum[:])
	}
	return &watch.Payload{Data: body, Checksum: checksum}, nil
}

func (s *Source) endpoint(tenant string, resourceID ...string) string {
	elems := []string{"tenants", url.PathEscape(tenant), "resources"}
	for _, id := range resourceID {
		elems = append(elems, url.PathEscape(id))
	}
	return s.base.JoinPath(elems...).String()
}

// get performs a GET with rate limiting and retries.
func (s *Source) get(ctx context.Context, target string) ([]byte, http.Header, error) {
	var (
		body   []byte
		header http.Header
	)
	attempt := 0
	op := func() error {
		attempt++
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "failed to build request"))
		}
		if s.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil || errors.IsInvalidRequestError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
		if err != nil {
			return errors.Wrap(err, "failed to read response")
		}
		if len(data) > maxPayloadBytes {
			return backoff.Permanent(errors.Newf("response exceeds %d bytes", maxPayloadBytes))
		}

		if err := statusError(resp.StatusCode, data); err != nil {
			if retryable(resp.StatusCode) {
				s.log.Debugw("Retrying request",
					"status", resp.StatusCode,
					"attempt", attempt,
					logger.FieldURL, target)
				return err
			}
			return backoff.Permanent(err)
		}
		body, header = data, resp.Header
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		return nil, nil, err
	}
	return body, header, nil
}

func (s *Source) newBackOff() backoff.BackOff {
	if s.cfg.RetryMaxElapsed <= 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	if s.cfg.RetryInitialBackoff > 0 {
		b.InitialInterval = s.cfg.RetryInitialBackoff
	}
	b.MaxElapsedTime = s.cfg.RetryMaxElapsed
	return b
}

func statusError(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	err := errors.Newf("unexpected status %d: %s", code, snippet)
	if code == http.StatusNotFound {
		err = errors.Mark(err, errors.ErrNotFound)
	}
	return err
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// strongETag returns the opaque value of a strong ETag, or "" for weak or
// missing ones.
func strongETag(etag string) string {
	etag = strings.TrimSpace(etag)
	if etag == "" || strings.HasPrefix(etag, "W/") {
		return ""
	}
	return strings.Trim(etag, `"`)
}

var _ watch.Source = (*Source)(nil)
