package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"

	"github.com/smallyunet/engineapi/pkg/config"
)

const subscriber = "engineapi"

// Client is a CometBFT RPC client used to follow the chain height.
type Client struct {
	endpoint string
	rpc      *rpchttp.HTTP
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewClient creates a CometBFT client for the configured endpoint
func NewClient(cfg *config.Config) (*Client, error) {
	endpoint, err := normalizeEndpoint(cfg.CometBFT.Endpoint)
	if err != nil {
		return nil, err
	}
	rpc, err := rpchttp.New(endpoint, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("create cometbft rpc client [%s]: %w", endpoint, err)
	}
	return &Client{
		endpoint: endpoint,
		rpc:      rpc,
		logger:   slog.Default().With("component", "consensus"),
	}, nil
}

// normalizeEndpoint defaults a scheme-less address to http.
func normalizeEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("cometbft endpoint cannot be empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid cometbft endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "tcp", "unix":
	default:
		return "", fmt.Errorf("unsupported cometbft endpoint scheme %q", u.Scheme)
	}
	return raw, nil
}

// Endpoint returns the normalized RPC address.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// GetStatus gets the status of the CometBFT node
func (c *Client) GetStatus(ctx context.Context) (*coretypes.ResultStatus, error) {
	status, err := c.rpc.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("cometbft status [%s]: %w", c.endpoint, err)
	}
	return status, nil
}

// LatestHeight returns the latest committed block height.
func (c *Client) LatestHeight(ctx context.Context) (int64, error) {
	block, err := c.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	return block.Height, nil
}

// LatestBlock returns the height and hash of the latest committed block.
func (c *Client) LatestBlock(ctx context.Context) (NewBlock, error) {
	status, err := c.GetStatus(ctx)
	if err != nil {
		return NewBlock{}, err
	}
	return NewBlock{
		Height: status.SyncInfo.LatestBlockHeight,
		Hash:   status.SyncInfo.LatestBlockHash.String(),
	}, nil
}

// NewBlock is a committed CometBFT block as seen by the event stream.
type NewBlock struct {
	Height int64
	Hash   string // upper-case hex without 0x, as CometBFT prints it
}

// SubscribeNewBlocks streams every new block until ctx ends or the
// subscription is closed.
func (c *Client) SubscribeNewBlocks(ctx context.Context) (<-chan NewBlock, error) {
	c.mu.Lock()
	if !c.started {
		if err := c.rpc.Start(); err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("start cometbft websocket: %w", err)
		}
		c.started = true
	}
	c.mu.Unlock()

	events, err := c.rpc.Subscribe(ctx, subscriber, cmttypes.EventQueryNewBlock.String())
	if err != nil {
		return nil, fmt.Errorf("subscribe new blocks: %w", err)
	}

	blocks := make(chan NewBlock)
	go func() {
		defer close(blocks)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				data, ok := ev.Data.(cmttypes.EventDataNewBlock)
				if !ok || data.Block == nil {
					c.logger.Warn("Unexpected new block event", "type", fmt.Sprintf("%T", ev.Data))
					continue
				}
				select {
				case blocks <- NewBlock{Height: data.Block.Height, Hash: data.Block.Hash().String()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return blocks, nil
}

// UnsubscribeAll drops every subscription held by this client.
func (c *Client) UnsubscribeAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	return c.rpc.UnsubscribeAll(ctx, subscriber)
}

// Stop closes the websocket connection if one was opened.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	return c.rpc.Stop()
}
