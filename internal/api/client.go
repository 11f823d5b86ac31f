package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/banshee-data/linecount/internal/httputil"
	"github.com/banshee-data/linecount/internal/pipeline"
)

// Client submits frames to a remote linecount server.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, c httputil.HTTPClient) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: c}
}

// SubmitFrame posts f to its stream and returns the crossings it produced.
func (c *Client) SubmitFrame(ctx context.Context, f pipeline.Frame) ([]pipeline.CrossingRecord, error) {
	if f.StreamID == "" {
		return nil, fmt.Errorf("%w: frame has no stream", pipeline.ErrInvalidFrame)
	}
	endpoint := fmt.Sprintf("%s/api/streams/%s/frames", c.baseURL, url.PathEscape(f.StreamID))
	var resp FrameResponse
	if err := httputil.PostJSON(ctx, c.http, endpoint, f, &resp); err != nil {
		return nil, err
	}
	return resp.Crossings, nil
}
