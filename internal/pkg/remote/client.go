package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	back "github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-cleanhttp"
)

// 远程任务阶段
const (
	StageQueued    = "QUEUED"
	StageRunning   = "RUNNING"
	StageCompleted = "COMPLETED"
	StageError     = "ERROR"
	StageFailed    = "FAILED"
	StageCanceled  = "CANCELED"
)

const (
	backoffAttempts = 3
	backoffInterval = time.Second
	backoffMax      = 30 * time.Second
)

// SubmitRequest 提交远程训练任务
type SubmitRequest struct {
	Script    string            `json:"script"`
	Args      []string          `json:"args"`
	Flavor    string            `json:"flavor"`
	Namespace string            `json:"namespace,omitempty"`
	Secrets   map[string]string `json:"secrets,omitempty"`
	Timeout   string            `json:"timeout"`
}

// JobInfo 远程任务信息
type JobInfo struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Stage   string `json:"stage"`
	Message string `json:"message,omitempty"`
}

// Terminal 是否已结束
func (j *JobInfo) Terminal() bool {
	switch j.Stage {
	case StageCompleted, StageError, StageFailed, StageCanceled:
		return true
	}
	return false
}

// Failed ERROR / FAILED
func (j *JobInfo) Failed() bool {
	return j.Stage == StageError || j.Stage == StageFailed
}

type Client struct {
	endpoint string
	token    string
	cl       *http.Client
}

func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		cl:       cleanhttp.DefaultClient(),
	}
}

// Submit 提交任务，返回远程任务 ID 与地址
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*JobInfo, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var info JobInfo
	if err := c.do(ctx, http.MethodPost, "/api/jobs", body, &info); err != nil {
		return nil, fmt.Errorf("submit remote job: %w", err)
	}
	return &info, nil
}

// Inspect 查询任务状态
func (c *Client) Inspect(ctx context.Context, id string) (*JobInfo, error) {
	var info JobInfo
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &info); err != nil {
		return nil, fmt.Errorf("inspect remote job %s: %w", id, err)
	}
	return &info, nil
}

func backoff(ctx context.Context) back.BackOff {
	bf := back.NewExponentialBackOff()
	bf.InitialInterval = backoffInterval
	bf.MaxInterval = backoffMax
	return back.WithContext(back.WithMaxRetries(bf, backoffAttempts), ctx)
}

// do 5xx 与网络错误重试，4xx 直接返回
func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	return back.Retry(func() error {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, rd)
		if err != nil {
			return back.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.cl.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		case resp.StatusCode >= 400:
			return back.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return back.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}, backoff(ctx))
}
