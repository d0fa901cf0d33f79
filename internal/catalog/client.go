// Package catalog resolves product details from the catalog service for the
// read-side wishlist views.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/utafrali/wishlist-sync/internal/domain"
	"github.com/utafrali/wishlist-sync/pkg/httpclient"
)

// DefaultBatchSize is the number of ids per catalog request.
const DefaultBatchSize = 50

const serviceName = "catalog"

// HTTPDoer is satisfied by httpclient.Client and httpclient.BreakerClient.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config holds catalog client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	BatchSize int
	Workers   int
}

// Client looks products up in batches fanned out on a bounded pool.
type Client struct {
	http      HTTPDoer
	baseURL   string
	timeout   time.Duration
	batchSize int
	pool      pond.ResultPool[batchResult]
	logger    *slog.Logger
}

type batchResult struct {
	products []domain.Product
	err      error
}

type productsResponse struct {
	Data []domain.Product `json:"data"`
}

// New creates a catalog client over doer.
func New(doer HTTPDoer, cfg Config, logger *slog.Logger) *Client {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	return &Client{
		http:      doer,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		timeout:   cfg.Timeout,
		batchSize: cfg.BatchSize,
		pool:      pond.NewResultPool[batchResult](cfg.Workers),
		logger:    logger,
	}
}

// NewWithBreaker builds the production client: retries, tracing propagation
// and a circuit breaker around the catalog service.
func NewWithBreaker(cfg Config, metrics *httpclient.BreakerMetrics, logger *slog.Logger) *Client {
	httpCfg := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	breaker := httpclient.NewBreakerClient(
		httpclient.New(httpCfg),
		httpclient.DefaultBreakerConfig(serviceName),
		metrics,
		logger,
	)
	return New(breaker, cfg, logger)
}

// LookupProducts returns the products the catalog knows, keyed by id. Ids
// the catalog omits are absent from the map. A failed batch is logged and
// skipped; an error is returned only when every batch failed.
func (c *Client) LookupProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	ids = dedupe(ids)
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	group := c.pool.NewGroup()
	for start := 0; start < len(ids); start += c.batchSize {
		batch := ids[start:min(start+c.batchSize, len(ids))]
		group.Submit(func() batchResult {
			products, err := c.fetchBatch(ctx, batch)
			return batchResult{products: products, err: err}
		})
	}

	results, err := group.Wait()
	if err != nil {
		return out, fmt.Errorf("lookup products: %w", err)
	}

	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		for _, p := range r.products {
			out[p.ID] = p
		}
	}

	if len(errs) > 0 {
		c.logger.WarnContext(ctx, "catalog lookup partially failed",
			slog.Int("failed_batches", len(errs)),
			slog.Int("batches", len(results)),
			slog.String("error", errors.Join(errs...).Error()),
		)
		if len(errs) == len(results) {
			return out, fmt.Errorf("lookup products: %w", errors.Join(errs...))
		}
	}
	return out, nil
}

func (c *Client) fetchBatch(ctx context.Context, ids []string) ([]domain.Product, error) {
	endpoint := c.baseURL + "/api/v1/products?ids=" + url.QueryEscape(strings.Join(ids, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call catalog service: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}
	defer resp.Body.Close()

	var body productsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	return body.Data, nil
}

// Close stops the fan-out pool after in-flight lookups finish.
func (c *Client) Close() {
	c.pool.StopAndWait()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
