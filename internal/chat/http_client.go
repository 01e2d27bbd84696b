package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/piyusht2411/chatting-app/internal/logger"
)

type HTTPRemoteOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// HTTPRemote talks to the remote data service over its JSON wire protocol
// and receives change events over a websocket feed.
type HTTPRemote struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPRemote(opts HTTPRemoteOptions) *HTTPRemote {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPRemote{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

type queryRequest struct {
	Table  string `json:"table"`
	Filter Filter `json:"filter,omitempty"`
}

type queryResponse struct {
	Rows []Row `json:"rows"`
}

type insertRequest struct {
	Table string `json:"table"`
	Row   Row    `json:"row"`
}

type insertResponse struct {
	Row Row `json:"row"`
}

type upsertRequest struct {
	Table       string `json:"table"`
	Row         Row    `json:"row"`
	ConflictKey string `json:"conflictKey"`
}

func (c *HTTPRemote) Query(ctx context.Context, table string, filter Filter) ([]Row, error) {
	var resp queryResponse
	if err := c.do(ctx, "/v1/query", queryRequest{Table: table, Filter: filter}, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (c *HTTPRemote) Insert(ctx context.Context, table string, row Row) (Row, error) {
	var resp insertResponse
	if err := c.do(ctx, "/v1/insert", insertRequest{Table: table, Row: row}, &resp); err != nil {
		return nil, err
	}
	return resp.Row, nil
}

func (c *HTTPRemote) Upsert(ctx context.Context, table string, row Row, conflictKey string) error {
	return c.do(ctx, "/v1/upsert", upsertRequest{Table: table, Row: row, ConflictKey: conflictKey}, nil)
}

func (c *HTTPRemote) do(ctx context.Context, path string, payload, out any) error {
	if c == nil {
		return fmt.Errorf("http remote is nil")
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := c.baseURL + path

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
				return waitErr
			}
			continue
		}
		return fmt.Errorf("remote call failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
}

func (c *HTTPRemote) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type httpSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *httpSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// Subscribe opens the websocket change feed for one table. The returned
// subscription is established before Subscribe returns, so a confirmed
// fetch issued afterwards cannot miss a concurrent event.
func (c *HTTPRemote) Subscribe(ctx context.Context, table string, filter Filter, onEvent func(ChangeEvent)) (Subscription, error) {
	if c == nil || table == "" || onEvent == nil {
		return nil, ErrInvalidInput
	}
	wsURL, err := c.subscribeURL(table, filter)
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(subCtx, wsURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &httpSubscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					logger.Warn("change feed closed", "table", table, "err", err)
				}
				return
			}
			var event ChangeEvent
			if err := json.Unmarshal(data, &event); err != nil {
				logger.Warn("undecodable change frame dropped", "table", table, "err", err)
				continue
			}
			onEvent(event)
		}
	}()
	return sub, nil
}

func (c *HTTPRemote) subscribeURL(table string, filter Filter) (string, error) {
	wsBase := c.baseURL
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	values := url.Values{}
	values.Set("table", table)
	if len(filter) > 0 {
		encoded, err := json.Marshal(filter)
		if err != nil {
			return "", err
		}
		values.Set("filter", string(encoded))
	}
	return wsBase + "/v1/subscribe?" + values.Encode(), nil
}
