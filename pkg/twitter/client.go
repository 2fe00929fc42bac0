// Package twitter reads the filtered stream of the v2 API: rule
// management over REST, then a long-lived chunked read delivering one
// JSON tweet per line.
package twitter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/params"
	"github.com/quantfish/listingsniper/pkg/util"
)

// rateLimitWait is how long a 429 backs the client off; the v2 rate
// windows reset every 15 minutes.
const rateLimitWait = 15 * time.Minute

// reconnectWait paces stream reconnects after a drop.
const reconnectWait = 5 * time.Second

// streamFields asks for everything parseTweet consumes.
var streamFields = url.Values{
	"tweet.fields": {"created_at,referenced_tweets,in_reply_to_user_id,author_id,id,text,conversation_id,public_metrics"},
	"user.fields":  {"name,id,username,verified,public_metrics"},
	"expansions":   {"author_id,referenced_tweets.id,referenced_tweets.id.author_id"},
}

type Client struct {
	baseURL string
	bearer  string
	http    *http.Client
	clock   util.Clock
	log     *zap.SugaredLogger
}

func NewClient(cfg params.Twitter, clock util.Clock, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		bearer:  cfg.BearerToken,
		// no client timeout: the stream request is deliberately endless
		http:  &http.Client{},
		clock: clock,
		log:   log,
	}
}

// do issues one authenticated request, sleeping through rate-limit
// responses. Other non-2xx statuses fail immediately.
func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	for {
		var reqBody io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encode request body: %w", err)
			}
			reqBody = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.bearer)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			c.log.Warnw("rate_limited", "url", rawURL, "wait", rateLimitWait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(rateLimitWait):
			}
			continue
		}

		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("%s %s: status %d: %s", method, rawURL, resp.StatusCode, snippet)
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

// Rule is one filtered-stream matching rule.
type Rule struct {
	ID    string `json:"id,omitempty"`
	Value string `json:"value"`
	Tag   string `json:"tag,omitempty"`
}

// ListingRule matches only tweets authored by the given account.
func ListingRule(userHandle string) Rule {
	return Rule{Value: "from:" + userHandle, Tag: "new_coin_listing"}
}

func (c *Client) rulesURL() string { return c.baseURL + "/tweets/search/stream/rules" }

func (c *Client) Rules(ctx context.Context) ([]Rule, error) {
	var resp struct {
		Data []Rule `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, c.rulesURL(), nil, &resp); err != nil {
		return nil, fmt.Errorf("get stream rules: %w", err)
	}
	return resp.Data, nil
}

// ResetRules replaces whatever rules are registered with the given
// set, so a restart never streams against stale filters.
func (c *Client) ResetRules(ctx context.Context, rules ...Rule) error {
	existing, err := c.Rules(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		ids := make([]string, len(existing))
		for i, r := range existing {
			ids[i] = r.ID
		}
		del := map[string]any{"delete": map[string]any{"ids": ids}}
		if err := c.do(ctx, http.MethodPost, c.rulesURL(), del, nil); err != nil {
			return fmt.Errorf("delete stream rules: %w", err)
		}
	}
	add := map[string]any{"add": rules}
	if err := c.do(ctx, http.MethodPost, c.rulesURL(), add, nil); err != nil {
		return fmt.Errorf("add stream rules: %w", err)
	}
	c.log.Infow("stream_rules_set", "rules", len(rules))
	return nil
}

// streamOnce holds one connection open and forwards parsed tweets
// until the server drops it or ctx ends.
func (c *Client) streamOnce(ctx context.Context, out chan<- Tweet) error {
	streamURL := c.baseURL + "/tweets/search/stream?" + streamFields.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.log.Warnw("stream_rate_limited", "wait", rateLimitWait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(rateLimitWait):
		}
		return fmt.Errorf("stream rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("open stream: status %d: %s", resp.StatusCode, snippet)
	}

	c.log.Infow("stream_connected")
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			// keep-alive newline
			continue
		}
		tweet, err := ParseStreamLine(line)
		if err != nil {
			c.log.Warnw("stream_line_unparseable", "err", err)
			continue
		}
		select {
		case out <- tweet:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return fmt.Errorf("stream closed by server")
}

// Listen keeps the filtered stream open until ctx is cancelled,
// reconnecting after drops. Tweets are delivered on out in arrival
// order; out is closed on return.
func (c *Client) Listen(ctx context.Context, out chan<- Tweet) error {
	defer close(out)
	for {
		err := c.streamOnce(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warnw("stream_disconnected", "err", err, "reconnect_in", reconnectWait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(reconnectWait):
		}
	}
}
