// Package httpclient is the bundled HTTP IConnectionService, grounded on
// the source's HttpConnectionService.h and backed by
// github.com/hashicorp/go-retryablehttp (promoted here from the teacher's
// indirect dependency into direct use) instead of net/http directly, so
// dependents get exponential-backoff retry semantics for free.
package httpclient

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"synapse/pkg/ids"
	"synapse/pkg/logging"
)

// IConnectionService is the interface dependents register against for
// outbound HTTP requests.
type IConnectionService interface {
	Get(ctx context.Context, url string) (*http.Response, error)
	Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error)
}

// InterfaceHash is the stable hash dependents register against.
var InterfaceHash = ids.InterfaceOf[IConnectionService]()

// retryableLogAdapter lets go-retryablehttp log through a synapse Logger
// instead of its default stdlib logger.
type retryableLogAdapter struct{ logger logging.Logger }

func (a retryableLogAdapter) Printf(format string, args ...any) {
	a.logger.Debug("httpclient", 0, "retryablehttp", format, args...)
}

// Service wraps a retryablehttp.Client as synapse's bundled HTTP
// IConnectionService.
type Service struct {
	client *retryablehttp.Client
}

// New constructs an httpclient Service that retries a failed request up to
// maxRetries times after the first attempt, with retryablehttp's default
// exponential backoff.
func New(maxRetries int, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	c := retryablehttp.NewClient()
	c.RetryMax = maxRetries
	c.Logger = retryableLogAdapter{logger: logger}
	return &Service{client: c}
}

// Get issues a GET request, retrying transient failures.
func (s *Service) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return s.client.Do(req)
}

// Post issues a POST request, retrying transient failures.
func (s *Service) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return s.client.Do(req)
}

// SetTimeout overrides the underlying HTTP client's request timeout.
func (s *Service) SetTimeout(d time.Duration) { s.client.HTTPClient.Timeout = d }
