package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	pairsPath       = "/mex/pairs"
	defaultBaseURL  = "https://api.multiversx.com"
	defaultPageSize = 50
	maxBodyBytes    = 16 << 20
)

// PairsOptions parameterise the MultiversX pairs fetcher.
type PairsOptions struct {
	BaseURL   string
	PageSize  int
	Timeout   time.Duration
	UserAgent string
}

// Pairs fetches liquidity pairs from the MultiversX API.
type Pairs struct {
	opts    PairsOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPairs constructs a pairs fetcher.
func NewPairs(opts PairsOptions, logger zerolog.Logger) *Pairs {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Pairs{
		opts:    opts,
		logger:  logger.With().Str("component", "pairs_fetcher").Logger(),
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: baseURL,
	}
}

// FetchPools returns each element of the pairs array as an unparsed record.
// Any failure is reported as ErrFetchFailure; individual records are not inspected here.
func (p *Pairs) FetchPools(ctx context.Context) ([]gjson.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	query := url.Values{}
	query.Set("size", strconv.Itoa(p.opts.PageSize))
	endpoint := p.baseURL + pairsPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrFetchFailure, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "mxliquidity/1.0")
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailure, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetchFailure, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: response is not valid json", ErrFetchFailure)
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsArray() {
		return nil, fmt.Errorf("%w: expected json array, got %s", ErrFetchFailure, doc.Type)
	}

	records := doc.Array()
	p.logger.Debug().
		Int("records", len(records)).
		Dur("elapsed", time.Since(start)).
		Msg("pairs fetched")
	return records, nil
}

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("%w: pairs api error (%d): %s", ErrFetchFailure, status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("%w: pairs api error (%d): %s", ErrFetchFailure, status, apiErr.Error)
		}
	}
	if len(payload) > 0 && len(payload) < 512 {
		return fmt.Errorf("%w: pairs api error (%d): %s", ErrFetchFailure, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%w: pairs api error (%d)", ErrFetchFailure, status)
}

var _ PoolFeed = (*Pairs)(nil)
