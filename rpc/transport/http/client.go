package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/konceiver/dockv/rpc/common"
	"github.com/konceiver/dockv/rpc/transport"
)

// errNotConnected is returned by Send before Connect and after Close
var errNotConnected = errors.New("http transport not initialized")

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	serverURLs []*url.URL
	client     *http.Client
	counter    uint32
	retryCount int
	closed     atomic.Bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (transport *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}

	// Parse each server URL, plain host:port endpoints default to http
	parsedURLs := make([]*url.URL, len(config.Transport.Endpoints))
	for i, server := range config.Transport.Endpoints {
		if !strings.Contains(server, "://") {
			server = "http://" + server
		}
		parsedURL, err := url.Parse(strings.TrimSuffix(server, "/"))
		if err != nil {
			return err
		}
		parsedURLs[i] = parsedURL
	}

	timeout := time.Duration(config.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	// Create client with default transport
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: max(10, config.Transport.ConnectionsPerEndpoint),
			IdleConnTimeout:     90 * time.Second,
		},
	}

	// Set the client and server URLs
	transport.client = client
	transport.serverURLs = parsedURLs
	transport.counter = 0
	transport.retryCount = max(1, config.Transport.RetryCount)
	transport.closed.Store(false)

	// No error
	return nil
}

func (transport *httpClientTransport) Send(ctx context.Context, shardId uint64, req []byte) (resp []byte, err error) {
	// Check if the transport is initialized
	if transport.client == nil || transport.closed.Load() {
		return nil, errNotConnected
	}

	backoff := 10 * time.Millisecond
	for attempt := 0; attempt < transport.retryCount; attempt++ {
		if attempt > 0 {
			// jittered exponential backoff between attempts
			wait := backoff + time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("request abandoned after %d attempts: %w", attempt, err)
			case <-time.After(wait):
			}
			backoff *= 2
		}

		var retry bool
		resp, retry, err = transport.sendOnce(ctx, shardId, req)
		if err == nil || !retry {
			return resp, err
		}
		Logger.Debugf("http request to shard %d failed (attempt %d): %v", shardId, attempt+1, err)
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", transport.retryCount, err)
}

func (transport *httpClientTransport) Close() error {
	if !transport.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Close the client
	if transport.client != nil {
		transport.client.CloseIdleConnections()
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sendOnce sends a single request to the next server (round-robin) and
// reports whether a failure may be retried
func (transport *httpClientTransport) sendOnce(ctx context.Context, shardId uint64, req []byte) ([]byte, bool, error) {
	// Select the next server via round-robin
	idx := atomic.AddUint32(&transport.counter, 1) % uint32(len(transport.serverURLs))
	serverURL := transport.serverURLs[idx]

	// Create the complete URL
	requestURL := fmt.Sprintf("%s/%v", serverURL.String(), shardId)

	// Create the request
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(req))
	if err != nil {
		return nil, false, err
	}
	httpRequest.Header.Set("Content-Type", "application/octet-stream")

	httpResponse, err := transport.client.Do(httpRequest)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, true, err
	}

	// Check if the response status code is OK, server errors are retried
	if httpResponse.StatusCode != http.StatusOK {
		return nil, httpResponse.StatusCode >= 500, fmt.Errorf("http error: %s: %s", httpResponse.Status, bytes.TrimSpace(body))
	}

	return body, false, nil
}
