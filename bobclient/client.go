// Package bobclient maintains the single multiplexed JSON-RPC channel
// to the upstream Bob node over a WebSocket, the live tick stream and
// the read-mostly query caches.
package bobclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/withObsrvr/qubic-explorer-core/logging"
	"github.com/withObsrvr/qubic-explorer-core/metrics"
)

const (
	reconnectDelay = 5 * time.Second
	writeTimeout   = 10 * time.Second
	callTimeout    = 30 * time.Second

	tickChannelBuffer = 256
)

// ErrNotConnected is returned when a call is attempted while the
// WebSocket is down; callers retry on their next cycle
var ErrNotConnected = errors.New("bobclient: not connected")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcEnvelope covers both call responses and subscription notifications
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// Client is the upstream RPC client. One instance per process.
type Client struct {
	url string
	log *logging.ComponentLogger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan rpcResult
	nextID  uint64

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  []chan TickEvent

	cache *rpcCache
}

// New creates a client; Run must be started before calls succeed
func New(url string, log *logging.ComponentLogger) *Client {
	return &Client{
		url:     url,
		log:     log,
		pending: make(map[uint64]chan rpcResult),
		cache:   newRPCCache(),
	}
}

// Run maintains the connection until ctx is cancelled, reconnecting
// with a fixed backoff and re-establishing the tick subscription
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.connectAndServe(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Dur("backoff", reconnectDelay).Msg("Upstream connection lost")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial upstream: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.log.Info().Str("url", c.url).Msg("Connected to upstream node")

	// Re-establish the live tick subscription on every (re)connect
	if err := c.subscribeTicks(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Failed to subscribe to tick stream")
	}

	// Close the socket when ctx is cancelled so ReadMessage unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	err = c.readPump(conn)

	c.mu.Lock()
	c.conn = nil
	for id, ch := range c.pending {
		ch <- rpcResult{err: ErrNotConnected}
		delete(c.pending, id)
	}
	c.mu.Unlock()

	metrics.RPCReconnects.Inc()
	return err
}

func (c *Client) readPump(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env rpcEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn().Err(err).Msg("Failed to decode upstream message")
			continue
		}

		if env.Method == notificationNewTicks {
			c.dispatchTick(env.Params)
			continue
		}

		if env.ID == nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*env.ID]
		if ok {
			delete(c.pending, *env.ID)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}

		if env.Error != nil {
			ch <- rpcResult{err: env.Error}
		} else {
			ch <- rpcResult{result: env.Result}
		}
	}
}

func (c *Client) dispatchTick(params json.RawMessage) {
	var event TickEvent
	if err := json.Unmarshal(params, &event); err != nil {
		c.log.Warn().Err(err).Msg("Failed to decode tick notification")
		return
	}
	metrics.TicksObserved.Inc()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- event:
		default:
			// Slow consumer; it deduplicates on a high-water mark anyway
		}
	}
}

func (c *Client) subscribeTicks(ctx context.Context) error {
	var result json.RawMessage
	return c.call(ctx, methodSubscribe, []any{notificationNewTicks}, &result)
}

// SubscribeTicks returns a channel of live tick events. The node
// re-emits ticks per computor vote; consumers must deduplicate against
// a monotone high-water mark.
func (c *Client) SubscribeTicks() <-chan TickEvent {
	ch := make(chan TickEvent, tickChannelBuffer)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return ch
}

// call performs one JSON-RPC request/response round trip
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	metrics.RPCRequests.WithLabelValues(method).Inc()

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		metrics.RPCErrors.WithLabelValues(method).Inc()
		return ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	ch := make(chan rpcResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		metrics.RPCErrors.WithLabelValues(method).Inc()
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		metrics.RPCErrors.WithLabelValues(method).Inc()
		return fmt.Errorf("%s timed out", method)
	case res := <-ch:
		if res.err != nil {
			metrics.RPCErrors.WithLabelValues(method).Inc()
			return res.err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(res.result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
		return nil
	}
}

// GetBalance returns the balance of an address, cached for 10 seconds.
// A stale cached value is served if the upstream call fails.
func (c *Client) GetBalance(ctx context.Context, address string) (*BalanceInfo, error) {
	if info, ok, fresh := c.cache.getBalance(address); ok && fresh {
		return info, nil
	}

	var info BalanceInfo
	if err := c.call(ctx, methodGetBalance, []any{address}, &info); err != nil {
		if cached, ok, _ := c.cache.getBalance(address); ok {
			c.log.Debug().Str("address", address).Err(err).Msg("Serving stale cached balance")
			return cached, nil
		}
		return nil, err
	}
	c.cache.setBalance(address, &info)
	return &info, nil
}

// GetEpochInfo returns the upstream epoch metadata
func (c *Client) GetEpochInfo(ctx context.Context, epoch uint32) (*EpochInfo, error) {
	var info EpochInfo
	if err := c.call(ctx, methodGetEpochInfo, []any{epoch}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetEndEpochLogs returns the logs of an epoch's end tick
func (c *Client) GetEndEpochLogs(ctx context.Context, epoch uint32) ([]BobLog, error) {
	var logs []BobLog
	if err := c.call(ctx, methodGetEndEpochLogs, []any{epoch}, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// GetLogsByIdRange returns the logs of an epoch in [start, end]
func (c *Client) GetLogsByIdRange(ctx context.Context, epoch uint32, start, end uint64) ([]BobLog, error) {
	var logs []BobLog
	if err := c.call(ctx, methodGetLogsByIdRange, []any{epoch, start, end}, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// GetComputors returns the sanitised 676-address computor list for an
// epoch, cached for one hour. A stale cached list is served if the
// upstream call fails.
func (c *Client) GetComputors(ctx context.Context, epoch uint32) ([]string, error) {
	if addrs, ok, fresh := c.cache.getComputors(epoch); ok && fresh {
		return addrs, nil
	}

	var result computorsResult
	if err := c.call(ctx, methodGetComputors, []any{epoch}, &result); err != nil {
		if cached, ok, _ := c.cache.getComputors(epoch); ok {
			c.log.Debug().Uint32("epoch", epoch).Err(err).Msg("Serving stale cached computor list")
			return cached, nil
		}
		return nil, err
	}

	addresses := make([]string, 0, len(result.Computors))
	for i, raw := range result.Computors {
		addr, ok := SanitizeComputorAddress(raw)
		if !ok {
			return nil, fmt.Errorf("computor %d of epoch %d is malformed", i, epoch)
		}
		addresses = append(addresses, addr)
	}
	if len(addresses) != 676 {
		return nil, fmt.Errorf("expected 676 computors for epoch %d, got %d", epoch, len(addresses))
	}

	c.cache.setComputors(epoch, addresses)
	return addresses, nil
}

// QuerySmartContract executes a read-only contract query, cached for 10
// minutes per (contract, function, input). A stale cached output is
// served if the upstream call fails.
func (c *Client) QuerySmartContract(ctx context.Context, contract string, fn uint32, inputHex string) (string, error) {
	key := scCacheKey(contract, fn, inputHex)
	if out, ok, fresh := c.cache.getSCQuery(key); ok && fresh {
		return out, nil
	}

	var output string
	if err := c.call(ctx, methodQuerySmartContract, []any{contract, fn, inputHex}, &output); err != nil {
		if cached, ok, _ := c.cache.getSCQuery(key); ok {
			return cached, nil
		}
		return "", err
	}
	c.cache.setSCQuery(key, output)
	return output, nil
}
