// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package channel

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/log"
)

// HTTPConfig is the HTTPChannel configuration.
type HTTPConfig struct {
	// URL is the endpoint batches are posted to; Request.Path is appended.
	URL string

	// Timeout defaults to DefaultRequestTimeout.
	Timeout time.Duration

	// Client is optional.
	Client *http.Client

	// Log is optional.
	Log *logging.Logger
}

// HTTPChannel posts every batch as one HTTP request.
type HTTPChannel struct {
	sync.Mutex

	log     *logging.Logger
	client  *http.Client
	url     string
	timeout time.Duration
	closed  bool
}

// NewHTTP creates an HTTPChannel.
func NewHTTP(cfg *HTTPConfig) (*HTTPChannel, error) {
	if cfg.URL == "" {
		return nil, failure.InvalidParams.WithMessage("channel: missing URL")
	}
	c := &HTTPChannel{
		log:     cfg.Log,
		client:  cfg.Client,
		url:     cfg.URL,
		timeout: cfg.Timeout,
	}
	if c.log == nil {
		c.log = log.NewDiscard().GetLogger("channel/http")
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRequestTimeout
	}
	return c, nil
}

// Send implements Channel.
func (c *HTTPChannel) Send(ctx context.Context, data []byte, req *Request) ([]byte, error) {
	c.Lock()
	closed := c.closed
	c.Unlock()
	if closed {
		return nil, failure.ChannelClosed
	}
	if req == nil {
		req = &Request{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	method := http.MethodPost
	var body io.Reader = bytes.NewReader(data)
	if req.IsGet {
		method, body = http.MethodGet, nil
	}
	hreq, err := http.NewRequestWithContext(ctx, method, c.url+req.Path, body)
	if err != nil {
		return nil, failure.InvalidParams.Wrap(err)
	}
	ct := req.ContentType
	if ct == "" {
		ct = DefaultContentType
	}
	hreq.Header.Set("Content-Type", ct)
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	hreq.Close = !req.KeepAlive

	resp, err := c.client.Do(hreq)
	if err != nil {
		c.log.Debugf("POST %s failed: %v", hreq.URL, err)
		return nil, failure.NotConnected.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, failure.BadHTTPStatus.WithMessage("%s", resp.Status)
	}
	reply, err := io.ReadAll(io.LimitReader(resp.Body, MaxReplySize))
	if err != nil {
		return nil, failure.NotConnected.Wrap(err)
	}
	if len(reply) == 0 {
		return nil, failure.NoResponse
	}
	return reply, nil
}

// Close implements Channel.
func (c *HTTPChannel) Close() error {
	c.Lock()
	defer c.Unlock()
	c.closed = true
	c.client.CloseIdleConnections()
	return nil
}
