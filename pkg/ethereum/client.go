package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/smallyunet/engineapi/pkg/config"
	"github.com/smallyunet/engineapi/pkg/engine"
	"github.com/smallyunet/engineapi/pkg/jwt"
)

// ErrNotFound is returned when the execution client answers null for a block.
var ErrNotFound = errors.New("not found")

// Client is a JSON-RPC client for an execution client. Methods prefixed
// engine_ go to the authenticated Engine API endpoint.
type Client struct {
	endpoint       string
	engineEndpoint string
	httpClient     *http.Client
	secret         *jwt.Secret
	nextID         atomic.Uint64
	logger         *slog.Logger
}

// NewClient creates a new execution client
func NewClient(cfg *config.Config) (*Client, error) {
	if strings.TrimSpace(cfg.Execution.Endpoint) == "" {
		return nil, fmt.Errorf("execution endpoint cannot be empty")
	}

	logger := slog.Default().With("component", "execution")
	c := &Client{
		endpoint:       cfg.Execution.Endpoint,
		engineEndpoint: cfg.Execution.EngineAPI,
		httpClient:     &http.Client{Timeout: cfg.CallTimeout(10 * time.Second)},
		logger:         logger,
	}
	if c.engineEndpoint == "" {
		c.engineEndpoint = c.endpoint
	}

	if cfg.Execution.JWTSecret != "" {
		secret, err := jwt.LoadSecret(cfg.Execution.JWTSecret)
		if err != nil {
			logger.Warn("Engine API calls will be unauthenticated", "err", err)
		} else {
			c.secret = &secret
			logger.Info("JWT secret loaded", "path", cfg.Execution.JWTSecret)
		}
	}

	logger.Info("Initializing execution client", "endpoint", c.endpoint, "engine", c.engineEndpoint)
	return c, nil
}

// Call makes a JSON-RPC call and returns the raw result. A JSON-RPC error
// object is returned as *engine.RPCError with code and message untouched.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	req, err := engine.NewRequest(c.nextID.Add(1), method, params...)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	isEngine := strings.HasPrefix(method, "engine_")
	endpoint := c.endpoint
	if isEngine {
		endpoint = c.engineEndpoint
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if isEngine && c.secret != nil {
		token, err := jwt.GenerateToken(*c.secret, time.Now())
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("Calling execution client", "method", method, "id", string(req.ID))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var response engine.Response
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s response: %w", method, err)
	}
	if !response.MatchesID(req) {
		return nil, fmt.Errorf("%s: response id %s does not match request id %s", method, response.ID, req.ID)
	}
	if err := response.Err(); err != nil {
		return nil, err
	}
	return response.ResultOrNull(), nil
}

// CallResult is Call followed by decoding the result into v.
func (c *Client) CallResult(ctx context.Context, v interface{}, method string, params ...interface{}) error {
	result, err := c.Call(ctx, method, params...)
	if err != nil {
		return err
	}
	resp := engine.Response{Result: result}
	if err := resp.DecodeResult(v); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Header is the subset of an execution block the bridge follows.
type Header struct {
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
	Number     hexutil.Uint64 `json:"number"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
}

func (c *Client) blockBy(ctx context.Context, method string, arg interface{}) (*Header, error) {
	var header *Header
	if err := c.CallResult(ctx, &header, method, arg, false); err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("%s(%v): %w", method, arg, ErrNotFound)
	}
	return header, nil
}

// LatestBlock returns the head block of the execution client.
func (c *Client) LatestBlock(ctx context.Context) (*Header, error) {
	return c.blockBy(ctx, "eth_getBlockByNumber", "latest")
}

// BlockByNumber returns the block at number.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*Header, error) {
	return c.blockBy(ctx, "eth_getBlockByNumber", hexutil.EncodeUint64(number))
}

// BlockByHash returns the block with the given hash.
func (c *Client) BlockByHash(ctx context.Context, hash common.Hash) (*Header, error) {
	return c.blockBy(ctx, "eth_getBlockByHash", hash)
}

// ChainID returns the chain id reported by eth_chainId.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.CallResult(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

// SendRawTransaction submits a signed, RLP or typed-envelope encoded transaction.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.CallResult(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// CheckConnection verifies connectivity to the execution client
func (c *Client) CheckConnection(ctx context.Context) (string, error) {
	methods := []string{"eth_blockNumber", "net_version", "web3_clientVersion"}

	var lastErr error
	for _, method := range methods {
		_, err := c.Call(ctx, method)
		if err == nil {
			return fmt.Sprintf("Connected using %s", method), nil
		}
		lastErr = err
		c.logger.Debug("Connection probe failed", "method", method, "err", err)
	}
	return "", fmt.Errorf("all connection methods failed, last error: %w", lastErr)
}
