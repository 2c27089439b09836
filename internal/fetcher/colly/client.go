// Package collyfetcher implements inventory.PageFetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/host-inventory/internal/inventory"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Client fetches source pages with a POST per page.
type Client struct {
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type pageResult struct {
	status int
	body   []byte
}

// New builds a Client. Clones share the base collector's HTTP backend, so
// the transport and timeout are fixed here.
func New(cfg Config) *Client {
	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(timeout)
	return &Client{baseCollector: c}
}

// FetchPage posts to the source URL with skip and limit query parameters and
// decodes the JSON array it returns.
func (c *Client) FetchPage(ctx context.Context, request inventory.PageRequest) ([]inventory.RawRecord, error) {
	target, err := pageURL(request)
	if err != nil {
		return nil, inventory.Fatal(err, 0)
	}

	var (
		result   pageResult
		fetchErr error
	)
	collector := c.buildCollector(request, &result, &fetchErr)
	if err := c.runCollector(ctx, collector, target, &result, &fetchErr); err != nil {
		return nil, err
	}
	if result.status == http.StatusNoContent {
		return nil, nil
	}
	return decodePage(result.body)
}

func pageURL(request inventory.PageRequest) (string, error) {
	u, err := url.Parse(request.URL)
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	q := u.Query()
	q.Set("skip", strconv.Itoa(request.Skip))
	q.Set("limit", strconv.Itoa(request.Limit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) buildCollector(
	request inventory.PageRequest,
	result *pageResult,
	fetchErr *error,
) *colly.Collector {
	collector := c.baseCollector.Clone()
	// Every poll of an empty page hits the same URL again.
	collector.AllowURLRevisit = true
	// Status errors reach OnResponse and are classified in runCollector;
	// colly would otherwise fail every status above 202.
	collector.ParseHTTPErrorResponse = true
	c.configureCollectorHooks(collector, request, result, fetchErr)
	return collector
}

func (c *Client) configureCollectorHooks(
	hooks collectorHooks,
	request inventory.PageRequest,
	result *pageResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (c *Client) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	target string,
	result *pageResult,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(http.MethodPost, target, nil, nil, nil)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = *fetchErr
		}
		if err == nil && result.status >= http.StatusBadRequest {
			err = fmt.Errorf("status %d %s", result.status, http.StatusText(result.status))
		}
		if err != nil {
			return classify(result.status, err)
		}
		return nil
	}
}

// classify maps a failed request onto the retryable/fatal split: transport
// failures, 429 and 5xx are retryable, every other status is fatal.
func classify(status int, err error) error {
	switch {
	case status == 0:
		return inventory.Retryable(fmt.Errorf("colly request failed: %w", err), 0)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return inventory.Retryable(fmt.Errorf("colly response failed: %w", err), status)
	default:
		return inventory.Fatal(fmt.Errorf("colly response failed: %w", err), status)
	}
}

func decodePage(body []byte) ([]inventory.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var page []inventory.RawRecord
	if err := dec.Decode(&page); err != nil {
		return nil, inventory.Fatal(fmt.Errorf("decode page: %w", err), 0)
	}
	for i, record := range page {
		if record == nil {
			return nil, inventory.Fatal(fmt.Errorf("decode page: element %d is not an object", i), 0)
		}
	}
	return page, nil
}

func copyHeaders(headers http.Header, r *colly.Request) {
	if headers == nil {
		return
	}
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
