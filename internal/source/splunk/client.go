// Package splunk implements a minimal client for the Splunk search
// REST API: session login, search-job dispatch, and paged result
// streaming. Only the surface the exporter needs is covered.
package splunk

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Credentials is the connection blob, typically fetched from a secret
// store.
type Credentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Scheme   string `json:"scheme"`
}

// Options configures client behavior.
type Options struct {
	RequestTimeout time.Duration
	PollInterval   time.Duration
	PageSize       int
	InsecureTLS    bool
}

// Session is an authenticated connection to the search API.
type Session struct {
	baseURL      string
	sessionKey   string
	client       *http.Client
	pollInterval time.Duration
	pageSize     int
}

type loginResponse struct {
	SessionKey string `json:"sessionKey"`
}

// Connect logs in and returns an authenticated session.
func Connect(ctx context.Context, creds Credentials, opts Options) (*Session, error) {
	if creds.Host == "" || creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("splunk credentials incomplete")
	}
	if creds.Port == 0 {
		creds.Port = 8089
	}
	if creds.Scheme == "" {
		creds.Scheme = "https"
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	transport := http.DefaultTransport
	if opts.InsecureTLS {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}

	s := &Session{
		baseURL:      fmt.Sprintf("%s://%s:%d", creds.Scheme, creds.Host, creds.Port),
		client:       &http.Client{Timeout: timeout, Transport: transport},
		pollInterval: pollInterval,
		pageSize:     pageSize,
	}

	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)
	form.Set("output_mode", "json")

	body, err := s.post(ctx, "/services/auth/login", form)
	if err != nil {
		return nil, fmt.Errorf("splunk login: %w", err)
	}

	var login loginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if login.SessionKey == "" {
		return nil, fmt.Errorf("splunk login returned no session key")
	}
	s.sessionKey = login.SessionKey
	return s, nil
}

var (
	pipeNewlineRe = regexp.MustCompile(`\n\s*\|`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// NormalizeQuery flattens a multi-line SPL query into the single-line
// form the jobs endpoint expects, substitutes the lookback placeholder,
// and ensures the leading search command.
func NormalizeQuery(query string, lookbackDays int) string {
	q := strings.ReplaceAll(query, "$lookback$", strconv.Itoa(lookbackDays))
	q = pipeNewlineRe.ReplaceAllString(q, " |")
	q = whitespaceRe.ReplaceAllString(q, " ")
	q = strings.TrimSpace(q)
	if q != "" && !strings.HasPrefix(strings.ToLower(q), "search ") && !strings.HasPrefix(q, "|") {
		q = "search " + q
	}
	return q
}

type jobCreateResponse struct {
	SID string `json:"sid"`
}

type jobStatusResponse struct {
	Entry []struct {
		Content struct {
			IsDone        bool   `json:"isDone"`
			IsFailed      bool   `json:"isFailed"`
			DispatchState string `json:"dispatchState"`
		} `json:"content"`
	} `json:"entry"`
}

// Search dispatches a search job over [earliest, latest] and returns a
// lazy stream over its result rows. The stream is finite and
// non-restartable.
func (s *Session) Search(ctx context.Context, query string, earliest, latest time.Time) (*RowStream, error) {
	form := url.Values{}
	form.Set("search", query)
	form.Set("exec_mode", "normal")
	form.Set("output_mode", "json")
	form.Set("earliest_time", earliest.UTC().Format(time.RFC3339))
	form.Set("latest_time", latest.UTC().Format(time.RFC3339))

	body, err := s.post(ctx, "/services/search/jobs", form)
	if err != nil {
		return nil, fmt.Errorf("create search job: %w", err)
	}
	var created jobCreateResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("decode job response: %w", err)
	}
	if created.SID == "" {
		return nil, fmt.Errorf("search job returned no sid")
	}

	if err := s.waitForJob(ctx, created.SID); err != nil {
		return nil, err
	}

	return &RowStream{session: s, sid: created.SID, pageSize: s.pageSize}, nil
}

func (s *Session) waitForJob(ctx context.Context, sid string) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		body, err := s.get(ctx, "/services/search/jobs/"+url.PathEscape(sid), url.Values{"output_mode": {"json"}})
		if err != nil {
			return fmt.Errorf("poll search job %s: %w", sid, err)
		}
		var status jobStatusResponse
		if err := json.Unmarshal(body, &status); err != nil {
			return fmt.Errorf("decode job status: %w", err)
		}
		if len(status.Entry) > 0 {
			content := status.Entry[0].Content
			if content.IsFailed || content.DispatchState == "FAILED" {
				return fmt.Errorf("search job %s failed", sid)
			}
			if content.IsDone {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Session) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *Session) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := s.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return s.do(req)
}

func (s *Session) do(req *http.Request) ([]byte, error) {
	if s.sessionKey != "" {
		req.Header.Set("Authorization", "Splunk "+s.sessionKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("splunk request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("splunk request failed with status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return io.ReadAll(resp.Body)
}
