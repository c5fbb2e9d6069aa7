package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/okian/kicker/internal/domain/types"
)

// ledgerPageSize is the page size used to read the whole ledger.
const ledgerPageSize = 100

// Client talks to the kicker HTTP API.
type Client struct {
	base   string
	token  string
	client *http.Client
}

// NewClient creates a client for base with a per-request timeout.
func NewClient(base, token string, timeout time.Duration) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// SubmitRequest is the body of POST /matches.
type SubmitRequest struct {
	TeamA        [2]int64 `json:"team_a"`
	TeamB        [2]int64 `json:"team_b"`
	Outcome      string   `json:"outcome"`
	SubmissionID string   `json:"submission_id,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do sends one request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" && method != http.MethodGet {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%s %s: reading body: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var e errorBody
		_ = json.Unmarshal(data, &e)
		return resp.StatusCode, fmt.Errorf("%w: %s %s: %d %s %s", ErrUnexpectedStatus, method, path, resp.StatusCode, e.Code, e.Message)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: decoding body: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// Ping checks that the service answers.
func (c *Client) Ping(ctx context.Context) error {
	var body struct {
		Res string `json:"res"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/ping", nil, &body); err != nil {
		return err
	}
	if body.Res != "pong" {
		return fmt.Errorf("%w: ping answered %q", ErrUnexpectedStatus, body.Res)
	}
	return nil
}

// Register creates a player.
func (c *Client) Register(ctx context.Context, name string) (types.Player, error) {
	var p types.Player
	_, err := c.do(ctx, http.MethodPost, "/players", map[string]string{"name": name}, &p)
	return p, err
}

// Player fetches a player by id.
func (c *Client) Player(ctx context.Context, id int64) (types.Player, error) {
	var p types.Player
	_, err := c.do(ctx, http.MethodGet, "/players/"+strconv.FormatInt(id, 10), nil, &p)
	return p, err
}

// Submit reports a match. The status tells a new record (201) from a
// replayed one (200).
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (types.Match, int, error) {
	var m types.Match
	status, err := c.do(ctx, http.MethodPost, "/matches", req, &m)
	return m, status, err
}

// Ledger reads every match, following the page cursor.
func (c *Client) Ledger(ctx context.Context) ([]types.Match, error) {
	var (
		out   []types.Match
		after int64
	)
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(ledgerPageSize))
		q.Set("after", strconv.FormatInt(after, 10))
		var page types.MatchPage
		if _, err := c.do(ctx, http.MethodGet, "/matches?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Matches...)
		if page.Next == 0 || len(page.Matches) == 0 {
			return out, nil
		}
		after = page.Next
	}
}
