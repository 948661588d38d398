package folo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/commonjava/folofix/pkg/build"
)

var (
	log    = logging.Logger("folofix/folo")
	tracer = otel.Tracer("folofix/folo")
)

// ErrNotFound is wrapped by a [ServiceError] for a 404 response.
var ErrNotFound = errors.New("not found")

// maxErrorBody caps how much of an error response body is kept.
const maxErrorBody = 4096

// ServiceError reports an unexpected status from the tracking service.
type ServiceError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("%s: unexpected status %d from %s", e.Op, e.StatusCode, e.URL)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *ServiceError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// DefaultHTTPClient is instrumented for tracing.
var DefaultHTTPClient = &http.Client{
	Transport: otelhttp.NewTransport(http.DefaultTransport),
}

// Client talks to the folo admin API of a repository manager.
type Client struct {
	endpoint   url.URL
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

func NewClient(endpoint url.URL, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: DefaultHTTPClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPClient returns the client used for service calls so content downloads
// can share its transport.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

type sealedIDs struct {
	Sealed []json.RawMessage `json:"sealed"`
}

// ListSealed returns the IDs of all sealed tracking reports.
func (c *Client) ListSealed(ctx context.Context) (_ []string, retErr error) {
	u := c.endpoint.JoinPath("api", "folo", "admin", "report", "ids", "sealed")

	ctx, span := tracer.Start(ctx, "list-sealed", trace.WithAttributes(
		attribute.String("url", u.String()),
	))
	defer endSpan(span, &retErr)

	body, status, err := c.get(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("listing sealed reports: %w", err)
	}
	if status != http.StatusOK {
		return nil, &ServiceError{Op: "listing sealed reports", URL: u.String(), StatusCode: status, Body: trimBody(body)}
	}

	var ids sealedIDs
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("decoding sealed report IDs: %w", err)
	}

	out := make([]string, 0, len(ids.Sealed))
	for _, raw := range ids.Sealed {
		// IDs are usually strings but older services emit bare numbers.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		out = append(out, s)
	}
	log.Debugw("listed sealed reports", "count", len(out))
	return out, nil
}

// FetchReport pulls the tracking report for trackingID. A report the service
// does not know about yields (nil, nil).
func (c *Client) FetchReport(ctx context.Context, trackingID string) (_ *TrackingReport, retErr error) {
	u := c.endpoint.JoinPath("api", "folo", "admin", trackingID, "record")

	ctx, span := tracer.Start(ctx, "fetch-report", trace.WithAttributes(
		attribute.String("tracking-id", trackingID),
		attribute.String("url", u.String()),
	))
	defer endSpan(span, &retErr)

	body, status, err := c.get(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("fetching tracking report %s: %w", trackingID, err)
	}

	switch status {
	case http.StatusOK:
		return DecodeReport(body, trackingID)
	case http.StatusNotFound:
		log.Debugw("tracking report not found", "tracking-id", trackingID)
		return nil, nil
	default:
		return nil, &ServiceError{
			Op:         "fetching tracking report " + trackingID,
			URL:        u.String(),
			StatusCode: status,
			Body:       trimBody(body),
		}
	}
}

// ContentURL is the URL an entry's content is downloaded from: the recorded
// local URL if there is one, otherwise the content API path for its store.
func (c *Client) ContentURL(entry ArtifactEntry) string {
	if entry.LocalURL != "" {
		return entry.LocalURL
	}
	k := entry.StoreKey
	return c.endpoint.JoinPath("api", k.PackageType, k.StoreType, k.Name, entry.RelativePath()).String()
}

func (c *Client) get(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", build.UserAgent())

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("reading response body: %w", err)
	}
	return body, res.StatusCode, nil
}

func trimBody(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return strings.TrimSpace(string(b))
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.SetStatus(codes.Error, (*err).Error())
		span.RecordError(*err)
	}
	span.End()
}
