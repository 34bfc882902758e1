package testrail

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

	"github.com/ethereum/go-ethereum/log"
)

const (
	apiPath        = "/index.php?/api/v2/"
	defaultTimeout = 60 * time.Second
)

var _ API = (*Client)(nil)

type Config struct {
	URL      string
	User     string
	Password string // password or API key
	SuiteID  int64
	Timeout  time.Duration
	Log      log.Logger

	HTTPClient *http.Client
}

// Client talks to the TestRail v2 API over HTTP. It does not retry;
// wrap it with NewResilient for that.
type Client struct {
	base    string
	user    string
	pass    string
	suiteID int64
	http    *http.Client
	log     log.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("testrail url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid testrail url %q: %w", cfg.URL, err)
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:    strings.TrimRight(cfg.URL, "/"),
		user:    cfg.User,
		pass:    cfg.Password,
		suiteID: cfg.SuiteID,
		http:    httpClient,
		log:     cfg.Log,
	}, nil
}

// GetRunCases returns every test in the run, following pagination links.
func (c *Client) GetRunCases(ctx context.Context, runID int64) ([]Test, error) {
	var tests []Test
	endpoint := fmt.Sprintf("get_tests/%d", runID)
	for endpoint != "" {
		raw, err := c.send(ctx, http.MethodGet, "get_tests", c.base+apiPath+endpoint, nil)
		if err != nil {
			return nil, err
		}
		raw = bytes.TrimSpace(raw)
		// older instances answer with a bare array
		if len(raw) > 0 && raw[0] == '[' {
			var page []Test
			if err := json.Unmarshal(raw, &page); err != nil {
				return nil, fmt.Errorf("failed to decode get_tests response: %w", err)
			}
			return append(tests, page...), nil
		}
		var page testsPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("failed to decode get_tests response: %w", err)
		}
		tests = append(tests, page.Tests...)
		endpoint = ""
		if page.Links.Next != nil && *page.Links.Next != "" {
			endpoint = strings.TrimPrefix(*page.Links.Next, "/api/v2/")
		}
	}
	return tests, nil
}

func (c *Client) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	endpoint := c.base + apiPath + "get_user_by_email&email=" + url.QueryEscape(email)
	raw, err := c.send(ctx, http.MethodGet, "get_user_by_email", endpoint, nil)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &user, nil
}

func (c *Client) AddPlanEntry(ctx context.Context, planID int64, req PlanEntryRequest) (*PlanEntry, error) {
	if !req.IncludeAll && len(req.CaseIDs) == 0 {
		return nil, ErrEmptyPlanEntry
	}
	if req.SuiteID == 0 {
		req.SuiteID = c.suiteID
	}
	if req.CaseIDs == nil {
		req.CaseIDs = []int64{}
	}
	raw, err := c.send(ctx, http.MethodPost, "add_plan_entry", fmt.Sprintf("%s%sadd_plan_entry/%d", c.base, apiPath, planID), req)
	if err != nil {
		return nil, err
	}
	var resp planEntryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode plan entry: %w", err)
	}
	if resp.ID == "" || len(resp.Runs) == 0 {
		return nil, fmt.Errorf("add_plan_entry: %w: id or runs", ErrMissingResponse)
	}
	return &PlanEntry{EntryID: resp.ID, RunID: resp.Runs[0].ID}, nil
}

func (c *Client) UpdatePlanEntry(ctx context.Context, planID int64, entryID string, req PlanEntryUpdate) error {
	if req.SuiteID == 0 {
		req.SuiteID = c.suiteID
	}
	if req.CaseIDs == nil {
		req.CaseIDs = []int64{}
	}
	endpoint := fmt.Sprintf("%s%supdate_plan_entry/%d/%s", c.base, apiPath, planID, url.PathEscape(entryID))
	_, err := c.send(ctx, http.MethodPost, "update_plan_entry", endpoint, req)
	return err
}

func (c *Client) AddResults(ctx context.Context, runID int64, results []Result) error {
	endpoint := fmt.Sprintf("%s%sadd_results/%d", c.base, apiPath, runID)
	_, err := c.send(ctx, http.MethodPost, "add_results", endpoint, resultsPayload{Results: results})
	return err
}

func (c *Client) send(ctx context.Context, method, op, endpoint string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.SetBasicAuth(c.user, c.pass)
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("testrail request", "op", op, "method", method)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return nil, newAPIError(op, resp.StatusCode, msg)
	}
	return raw, nil
}
