package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// DefaultBitbucketBaseURL is the Bitbucket Cloud API root.
const DefaultBitbucketBaseURL = "https://api.bitbucket.org/2.0"

// DefaultSCMTimeout bounds a single API call.
const DefaultSCMTimeout = 30 * time.Second

// BitbucketConfig configures a Bitbucket Cloud client.
type BitbucketConfig struct {
	BaseURL  string
	Username string

	// AppPassword is a Bitbucket app password, not the account password.
	AppPassword string

	Timeout time.Duration
}

// Bitbucket talks to the Bitbucket Cloud 2.0 API with basic auth.
type Bitbucket struct {
	logger  *slog.Logger
	baseURL string
	user    string
	pass    string
	client  *http.Client
	timeout time.Duration
}

// NewBitbucket returns a Bitbucket Cloud client.
func NewBitbucket(logger *slog.Logger, cfg BitbucketConfig) *Bitbucket {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBitbucketBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSCMTimeout
	}
	return &Bitbucket{
		logger:  logger,
		baseURL: baseURL,
		user:    cfg.Username,
		pass:    cfg.AppPassword,
		client:  &http.Client{},
		timeout: timeout,
	}
}

// FetchDiff returns the pull request's raw unified diff.
func (b *Bitbucket) FetchDiff(ctx context.Context, target Target) (string, error) {
	url := fmt.Sprintf("%s/repositories/%s/%s/pullrequests/%d/diff",
		b.baseURL, target.Workspace, target.Repo, target.PullRequest)

	body, err := b.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	b.logger.Debug("fetched pull request diff",
		"target", target.String(),
		"bytes", len(body))
	return string(body), nil
}

type inlineComment struct {
	Content struct {
		Raw string `json:"raw"`
	} `json:"content"`
	Inline struct {
		To   int    `json:"to"`
		Path string `json:"path"`
	} `json:"inline"`
}

// PostInlineComment posts a comment anchored to a new-file line of the diff.
func (b *Bitbucket) PostInlineComment(ctx context.Context, target Target, file string, line int, body string) error {
	url := fmt.Sprintf("%s/repositories/%s/%s/pullrequests/%d/comments",
		b.baseURL, target.Workspace, target.Repo, target.PullRequest)

	var payload inlineComment
	payload.Content.Raw = body
	payload.Inline.To = line
	payload.Inline.Path = file

	data, err := json.Marshal(payload)
	if err != nil {
		return ierrors.InternalError("failed to encode comment payload", err)
	}

	if _, err := b.do(ctx, http.MethodPost, url, data); err != nil {
		return err
	}

	b.logger.Debug("posted inline comment",
		"target", target.String(),
		"file", file,
		"line", line)
	return nil
}

// do issues one API call with basic auth and maps failures to coded errors.
func (b *Bitbucket) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, ierrors.InternalError("failed to build request", err)
	}
	req.SetBasicAuth(b.user, b.pass)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ierrors.TimeoutError(fmt.Sprintf("%s %s timed out", method, url), err)
		}
		return nil, ierrors.New(ierrors.ErrCodeSCM, fmt.Sprintf("%s %s failed", method, url), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeSCM, "failed to read response body", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ierrors.New(ierrors.ErrCodeSCM,
			fmt.Sprintf("authentication rejected (HTTP %d)", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound:
		return nil, ierrors.New(ierrors.ErrCodeSCM,
			fmt.Sprintf("not found: %s", url), nil)
	default:
		return nil, ierrors.New(ierrors.ErrCodeSCM,
			fmt.Sprintf("HTTP %d from %s: %s", resp.StatusCode, url, truncate(string(data), 200)), nil)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
