package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/goccy/go-json"
	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"

	"github.com/getsentry/calltrace/internal/errorutil"
	"github.com/getsentry/calltrace/internal/profile"
	"github.com/getsentry/calltrace/internal/profileio"
)

type (
	// Client talks to a calltrace service.
	Client struct {
		http *httpclient.Client
		url  string
	}

	UploadResponse struct {
		ProfileID string `json:"profile_id"`
	}

	ErrorResponse struct {
		Error string `json:"error"`
	}
)

func NewClient(host string, timeout time.Duration, retries int) (*Client, error) {
	if host == "" {
		return nil, errors.New("host must be set")
	}
	backoff := heimdall.NewConstantBackoff(100*time.Millisecond, 50*time.Millisecond)
	return &Client{
		url: strings.TrimSuffix(host, "/"),
		http: httpclient.NewClient(
			httpclient.WithHTTPTimeout(timeout),
			httpclient.WithRetryCount(retries),
			httpclient.WithRetrier(heimdall.NewRetrier(backoff)),
		),
	}, nil
}

func (c *Client) URL() string {
	return c.url
}

// Upload sends c in the XML format, brotli compressed, and returns the id
// the service stored it under.
func (c *Client) Upload(ctx context.Context, container *profile.Container) (string, error) {
	var body bytes.Buffer
	bw := brotli.NewWriter(&body)
	if err := profileio.WriteContainer(bw, container); err != nil {
		return "", err
	}
	if err := bw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/profiles", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Content-Encoding", "br")
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var r UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("apiclient: couldn't decode response: %w", err)
	}
	return r.ProfileID, nil
}

// Fetch downloads a stored profile.
func (c *Client) Fetch(ctx context.Context, profileID string) (*profile.Container, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/profiles/"+url.PathEscape(profileID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return profileio.ReadJSON(resp.Body)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}
	defer resp.Body.Close()
	var errResponse ErrorResponse
	b, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(b, &errResponse)
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("apiclient: %w: %s", errorutil.ErrNotFound, req.URL.Path)
	}
	return nil, fmt.Errorf(
		"error while calling %s. http status: %d, message: %s",
		req.URL.Path,
		resp.StatusCode,
		errResponse.Error,
	)
}
