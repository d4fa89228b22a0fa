package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/runtime-land/land/internal/models"
)

var errHashMismatch = errors.New("artifact hash mismatch")

const checksumHeader = "X-Md5"

// Client talks the worker protocol to the control plane.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a worker API client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type syncResponse struct {
	Status  string             `json:"status"`
	Message string             `json:"message"`
	Data    []*models.ConfItem `json:"data"`
}

type taskResponse struct {
	Status  string               `json:"status"`
	Message string               `json:"message"`
	Data    []*models.DeployTask `json:"data"`
}

// Sync posts the worker's identity and last-known checksum. It returns the
// new item list when the snapshot changed; changed=false means 304.
func (c *Client) Sync(ctx context.Context, info *models.IPInfo, checksum string) (items []*models.ConfItem, newChecksum string, changed bool, err error) {
	body, err := json.Marshal(info)
	if err != nil {
		return nil, "", false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/worker-api/sync", bytes.NewReader(body))
	if err != nil {
		return nil, "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(checksumHeader, checksum)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", false, err
	}
	defer resp.Body.Close()

	newChecksum = resp.Header.Get(checksumHeader)
	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil, newChecksum, false, nil
	case http.StatusOK:
	default:
		return nil, "", false, fmt.Errorf("sync returned %d", resp.StatusCode)
	}

	var out syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", false, err
	}
	if out.Status != "ok" {
		return nil, "", false, fmt.Errorf("sync rejected: %s", out.Message)
	}
	return out.Data, newChecksum, true, nil
}

// ReportTasks sends queued task results and returns the tasks still pending
// for this worker.
func (c *Client) ReportTasks(ctx context.Context, ip string, results map[string]string) ([]*models.DeployTask, error) {
	if results == nil {
		results = map[string]string{}
	}
	body, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}

	u := c.baseURL + "/worker-api/task?ip=" + url.QueryEscape(ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("task exchange returned %d", resp.StatusCode)
	}

	var out taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Status != "ok" {
		return nil, fmt.Errorf("task exchange rejected: %s", out.Message)
	}
	return out.Data, nil
}

// Download fetches an artifact from the object store's public URL.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func decodeConfItem(content string) (*models.ConfItem, error) {
	var item models.ConfItem
	if err := json.Unmarshal([]byte(content), &item); err != nil {
		return nil, err
	}
	if item.Domain == "" || item.DownloadURL == "" {
		return nil, errors.New("conf item missing domain or download url")
	}
	return &item, nil
}
