/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pacerserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/acronis/go-apipacer/log"
	"github.com/acronis/go-apipacer/pacer"
	"github.com/acronis/go-apipacer/restapi"
)

// Client is a typed HTTP client for the pacer API served by Server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     log.FieldLogger
}

// NewClient creates a new Client for the pacer API at the given base URL
// (e.g. "http://127.0.0.1:8080") using http.DefaultClient.
func NewClient(baseURL string, logger log.FieldLogger) *Client {
	return NewClientWithHTTPClient(http.DefaultClient, baseURL, logger)
}

// NewClientWithHTTPClient creates a new Client that does requests with the passed http.Client.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string, logger log.FieldLogger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

// GetStats fetches a snapshot of the engine state.
func (c *Client) GetStats(ctx context.Context) (pacer.Stats, error) {
	var stats pacer.Stats
	err := c.doGet(ctx, APIBasePath+"/stats", &stats)
	return stats, err
}

// GetRequest fetches the record of the request with the given id.
func (c *Client) GetRequest(ctx context.Context, id string) (pacer.RequestRecord, error) {
	var rec pacer.RequestRecord
	err := c.doGet(ctx, APIBasePath+"/requests/"+id, &rec)
	return rec, err
}

// GetWaitEstimate fetches the estimated remaining queue wait of the request with the given id.
func (c *Client) GetWaitEstimate(ctx context.Context, id string) (WaitEstimateData, error) {
	var estimate WaitEstimateData
	err := c.doGet(ctx, APIBasePath+"/requests/"+id+"/wait", &estimate)
	return estimate, err
}

// CancelRequest cancels the pending request with the given id.
// A request that is not pending anymore cannot be cancelled, and the returned error
// carries the requestNotCancellable code in that case.
func (c *Client) CancelRequest(ctx context.Context, id string) (CancelResultData, error) {
	var result CancelResultData
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+APIBasePath+"/requests/"+id+"/cancel", nil)
	if err != nil {
		return result, err
	}
	err = restapi.DoRequestAndUnmarshalJSON(c.httpClient, req, &result, c.logger)
	return result, err
}

// CancelRequests cancels the pending requests with the given ids in one call.
func (c *Client) CancelRequests(ctx context.Context, ids []string) (CancelBatchResultData, error) {
	var result CancelBatchResultData
	req, err := restapi.NewJSONRequest(http.MethodPost, c.baseURL+APIBasePath+"/requests/cancel", CancelBatchRequestData{IDs: ids})
	if err != nil {
		return result, err
	}
	err = restapi.DoRequestAndUnmarshalJSON(c.httpClient, req.WithContext(ctx), &result, c.logger)
	return result, err
}

func (c *Client) doGet(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return restapi.DoRequestAndUnmarshalJSON(c.httpClient, req, result, c.logger)
}

// IsNotFoundError reports whether the error from a Client call is a "not found" API response.
func IsNotFoundError(err error) bool {
	var clientErr *restapi.ClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound
}
