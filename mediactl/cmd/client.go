package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"media-downloader/shared"
)

// APIClient talks to the API gateway
type APIClient struct {
	baseURL    string
	httpClient *resty.Client
}

// InfoResponse is the body of GET /info
type InfoResponse struct {
	Metadata shared.Metadata `json:"metadata"`
	Cached   bool            `json:"cached"`
}

// SubmitResponse is the body of POST /extract
type SubmitResponse struct {
	JobID   string `json:"job_id"`
	State   string `json:"state"`
	Message string `json:"message"`
}

// StatusResponse is the body of GET /status/{id}
type StatusResponse struct {
	shared.JobStatus
	DownloadEndpoint string `json:"download_endpoint,omitempty"`
}

// WatchFrame is one websocket message from /watch/{id}
type WatchFrame struct {
	Type     string           `json:"type"`
	Status   shared.JobStatus `json:"status"`
	Progress float64          `json:"progress"`
	Elapsed  float64          `json:"elapsed_seconds,omitempty"`
	TimedOut bool             `json:"timed_out"`
	Error    string           `json:"error,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &APIClient{
		baseURL: baseURL,
		httpClient: resty.New().
			SetBaseURL(baseURL).
			SetHeader("User-Agent", "mediactl/1.0").
			SetTimeout(timeout).
			SetError(&apiError{}),
	}
}

func (c *APIClient) Info(ctx context.Context, mediaURL string) (*InfoResponse, error) {
	var result InfoResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("url", mediaURL).
		SetResult(&result).
		Get("/info")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *APIClient) Formats(ctx context.Context, kind string) ([]shared.FormatDescriptor, error) {
	var result []shared.FormatDescriptor
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("kind", kind).
		SetResult(&result).
		Get("/formats/{kind}")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *APIClient) Submit(ctx context.Context, req shared.SubmitRequest) (*SubmitResponse, error) {
	var result SubmitResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&result).
		Post("/extract")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *APIClient) Status(ctx context.Context, jobID string) (*StatusResponse, error) {
	var result StatusResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", jobID).
		SetResult(&result).
		Get("/status/{id}")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

// Watch streams progress frames for a job to onFrame and returns the final
// frame ("done", "timeout" or "error").
func (c *APIClient) Watch(ctx context.Context, jobID string, timeout time.Duration, onFrame func(WatchFrame)) (WatchFrame, error) {
	wsURL, err := c.watchURL(jobID, timeout)
	if err != nil {
		return WatchFrame{}, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return WatchFrame{}, fmt.Errorf("job %s not found", jobID)
		}
		return WatchFrame{}, fmt.Errorf("failed to open watch stream: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var frame WatchFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return WatchFrame{}, ctx.Err()
			}
			return WatchFrame{}, fmt.Errorf("watch stream closed: %w", err)
		}
		if frame.Type == "progress" {
			if onFrame != nil {
				onFrame(frame)
			}
			continue
		}
		if frame.Type == "error" {
			return frame, fmt.Errorf("watch failed: %s", frame.Error)
		}
		return frame, nil
	}
}

func (c *APIClient) watchURL(jobID string, timeout time.Duration) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server address: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/watch/" + url.PathEscape(jobID)
	if timeout > 0 {
		u.RawQuery = url.Values{"timeout": {timeout.String()}}.Encode()
	}
	return u.String(), nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
		return fmt.Errorf("server error (status %d): %s", resp.StatusCode(), e.Error)
	}
	return fmt.Errorf("server error (status %d): %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
}
