package piwik

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/leshachaplin/trackpost/internal/domain"
)

// BulkEncoding selects the wire shape of multi-event requests. Two encodings
// exist for compatibility with different server versions; the choice is made
// at client construction time.
type BulkEncoding string

const (
	BulkEncodingCurrent BulkEncoding = "current"
	BulkEncodingLegacy  BulkEncoding = "legacy"
)

const (
	trackingEndpoint = "piwik.php"

	defaultRequestTimeout = 10 * time.Second
)

var ErrMalformedResponse = errors.New("malformed server response")

type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	SiteID         string        `mapstructure:"site_id"`
	AuthToken      string        `mapstructure:"auth_token"`
	BulkEncoding   BulkEncoding  `mapstructure:"bulk_encoding"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryMax       int           `mapstructure:"retry_max"`
}

// Client sends encoded hits to the collection endpoint. A failed batch is the
// dispatcher's problem, so HTTP-level retries stay conservative here.
type Client struct {
	http     *retryablehttp.Client
	endpoint string
	token    string
	encoding BulkEncoding
	encoder  *Encoder
	logger   zerolog.Logger
}

func NewClient(cfg Config, encoder *Encoder, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	endpoint := base.JoinPath(trackingEndpoint).String()

	httpClient := retryablehttp.NewClient()
	httpClient.Logger = nil
	httpClient.RetryMax = cfg.RetryMax
	if cfg.RequestTimeout == 0 {
		httpClient.HTTPClient.Timeout = defaultRequestTimeout
	} else {
		httpClient.HTTPClient.Timeout = cfg.RequestTimeout
	}

	encoding := cfg.BulkEncoding
	if encoding == "" {
		encoding = BulkEncodingCurrent
	}

	return &Client{
		http:     httpClient,
		endpoint: endpoint,
		token:    cfg.AuthToken,
		encoding: encoding,
		encoder:  encoder,
		logger:   logger,
	}, nil
}

// Send delivers a batch. One record goes out as a single hit. Several records
// go out as one bulk request when an auth token is configured; without a
// token bulk mode is unavailable and the records fall back to sequential
// single hits. Any error means the whole batch must be retained for retry.
func (c *Client) Send(ctx context.Context, batch []domain.QueueRecord) error {
	if len(batch) == 0 {
		return nil
	}
	if len(batch) == 1 || c.token == "" {
		return c.sendSingles(ctx, batch)
	}
	return c.sendBulk(ctx, batch)
}

func (c *Client) sendSingles(ctx context.Context, batch []domain.QueueRecord) error {
	for _, rec := range batch {
		params := c.encoder.Params(rec.Event)
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return fmt.Errorf("build single hit request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("send single hit: %w", err)
		}
		if err = drainAndCheck(resp); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendBulk(ctx context.Context, batch []domain.QueueRecord) error {
	var (
		body        []byte
		contentType string
		err         error
	)
	switch c.encoding {
	case BulkEncodingLegacy:
		body, contentType = c.encodeBulkLegacy(batch)
	default:
		body, err = c.encodeBulkCurrent(batch)
		contentType = "application/json"
	}
	if err != nil {
		return fmt.Errorf("encode bulk request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bulk request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send bulk request: %w", err)
	}

	return c.checkBulkResponse(resp)
}

// encodeBulkCurrent emits the JSON body used by current servers: the encoded
// query string of every hit under "requests" plus the auth token.
func (c *Client) encodeBulkCurrent(batch []domain.QueueRecord) ([]byte, error) {
	requests := make([]string, len(batch))
	for i, rec := range batch {
		requests[i] = "?" + c.encoder.Params(rec.Event).Encode()
	}
	return json.Marshal(map[string]any{
		"requests":   requests,
		"token_auth": c.token,
	})
}

// encodeBulkLegacy emits the form-encoded body understood by 1.x servers:
// indexed request keys plus the auth token.
func (c *Client) encodeBulkLegacy(batch []domain.QueueRecord) ([]byte, string) {
	form := url.Values{}
	for i, rec := range batch {
		form.Set("requests["+strconv.Itoa(i)+"]", "?"+c.encoder.Params(rec.Event).Encode())
	}
	form.Set("token_auth", c.token)
	return []byte(form.Encode()), "application/x-www-form-urlencoded"
}

// checkBulkResponse expects a JSON status object from the server. A body that
// does not parse is treated like a transport failure so the batch is retried.
func (c *Client) checkBulkResponse(resp *http.Response) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("bulk request rejected: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read bulk response: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	var status struct {
		Status string `json:"status"`
	}
	if err = json.Unmarshal(body, &status); err != nil {
		c.logger.Warn().Str("body", string(body)).Msg("unparseable bulk response")
		return fmt.Errorf("%w: %s", ErrMalformedResponse, strings.TrimSpace(string(body)))
	}
	if status.Status != "" && status.Status != "success" {
		return fmt.Errorf("bulk request not accepted: status %q", status.Status)
	}
	return nil
}

func drainAndCheck(resp *http.Response) error {
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("hit rejected: status %d", resp.StatusCode)
	}
	return nil
}
