// Package gateway is the public facade: human-readable orders in, sequencer
// acknowledgements out, with every failure classified by Kind.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/perpgate/pkg/crypto"
	"github.com/uhyunpark/perpgate/pkg/market"
	"github.com/uhyunpark/perpgate/pkg/rpc"
	"github.com/uhyunpark/perpgate/pkg/sequencer"
	"github.com/uhyunpark/perpgate/pkg/storage"
	"github.com/uhyunpark/perpgate/pkg/util"
)

// Config holds the endpoints and protocol knobs. It is plain data: the
// gateway never reads the environment itself.
type Config struct {
	ContinuumEndpoint string        // sequencer submission endpoint
	RPCEndpoint       string        // read node
	SubmitTimeout     time.Duration // bound on every send; 0 = sequencer.DefaultTimeout
	ReadRetries       int           // backoff retries for idempotent reads
	CancelRetries     int           // resends of a cancel after TransportFailed
	OrderTTL          time.Duration // order expiry from now; 0 = no expiry
}

// Options are optional collaborators; zero values get defaults
type Options struct {
	Journal    sequencer.Journal   // default: in-memory
	Registry   *market.Registry    // default: market.NewRegistry()
	Transport  sequencer.Transport // default: HTTP to ContinuumEndpoint
	HTTPClient *http.Client
	Clock      util.Clock
	Logger     *zap.SugaredLogger
}

// Client places and cancels orders for one keypair.
// Safe for concurrent use; submissions do not share state.
type Client struct {
	cfg      Config
	keypair  *crypto.Keypair
	engine   *sequencer.Engine
	reads    *rpc.Client
	registry *market.Registry
	journal  sequencer.Journal
	clock    util.Clock
	log      *zap.SugaredLogger

	mu        sync.RWMutex
	listeners []func(Event)
}

// New builds a client without touching the network
func New(cfg Config, kp *crypto.Keypair, opts Options) (*Client, error) {
	if kp == nil {
		return nil, &Error{Kind: InputValidation, Op: "new", Err: errors.New("keypair is required")}
	}
	if cfg.RPCEndpoint == "" {
		return nil, &Error{Kind: InputValidation, Op: "new", Err: errors.New("rpc endpoint is required")}
	}
	if cfg.ContinuumEndpoint == "" && opts.Transport == nil {
		return nil, &Error{Kind: InputValidation, Op: "new", Err: errors.New("continuum endpoint is required")}
	}

	log := util.OrNop(opts.Logger)
	clock := opts.Clock
	if clock == nil {
		clock = util.RealClock{}
	}

	transport := opts.Transport
	if transport == nil {
		transport = sequencer.NewHTTPTransport(cfg.ContinuumEndpoint, opts.HTTPClient)
	}
	journal := opts.Journal
	if journal == nil {
		journal = storage.NewMemoryJournal()
	}
	registry := opts.Registry
	if registry == nil {
		registry = market.NewRegistry()
	}

	engine := sequencer.NewEngine(transport)
	engine.Timeout = cfg.SubmitTimeout
	engine.Clock = clock
	engine.Logger = log.Named("sequencer")
	engine.Journal = journal

	reads := rpc.NewClient(cfg.RPCEndpoint)
	reads.MaxRetries = cfg.ReadRetries
	reads.Logger = log.Named("rpc")
	if opts.HTTPClient != nil {
		reads.HTTPClient = opts.HTTPClient
	}

	return &Client{
		cfg:      cfg,
		keypair:  kp,
		engine:   engine,
		reads:    reads,
		registry: registry,
		journal:  journal,
		clock:    clock,
		log:      log,
	}, nil
}

// Dial builds a client and loads the market list from the read node
func Dial(ctx context.Context, cfg Config, kp *crypto.Keypair, opts Options) (*Client, error) {
	c, err := New(cfg, kp, opts)
	if err != nil {
		return nil, err
	}
	if err := c.RefreshMarkets(ctx); err != nil {
		return nil, err
	}
	c.log.Infow("gateway_connected",
		"continuum", cfg.ContinuumEndpoint,
		"rpc", cfg.RPCEndpoint,
		"owner", c.Owner(),
		"markets", c.registry.Count(),
	)
	return c, nil
}

// Owner returns the base58 public key orders are placed for
func (c *Client) Owner() string {
	return c.keypair.PublicString()
}

// Registry exposes the market registry
func (c *Client) Registry() *market.Registry {
	return c.registry
}

// RefreshMarkets reloads markets from the read node into the registry.
// Markets whose asset scale cannot be determined are skipped.
func (c *Client) RefreshMarkets(ctx context.Context) error {
	const op = "refresh_markets"

	infos, err := c.reads.ListMarkets(ctx)
	if err != nil {
		return wrap(op, err)
	}
	for i := range infos {
		m, err := c.marketFromInfo(&infos[i])
		if err != nil {
			c.log.Warnw("market_skipped", "market_id", infos[i].UUID, "name", infos[i].Name, "err", err)
			continue
		}
		if err := c.registry.Register(m); err != nil {
			return wrap(op, err)
		}
	}
	return nil
}

func (c *Client) marketFromInfo(info *rpc.MarketInfo) (*market.Market, error) {
	base, err := c.registry.ResolveAsset(info.BaseMint, info.BaseDecimals)
	if err != nil {
		return nil, fmt.Errorf("base: %w", err)
	}
	quote, err := c.registry.ResolveAsset(info.QuoteMint, info.QuoteDecimals)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	return &market.Market{
		ID:           info.UUID,
		Name:         info.Name,
		Kind:         info.Kind,
		Base:         base,
		Quote:        quote,
		BaseLotSize:  info.BaseLotSize,
		QuoteLotSize: info.QuoteLotSize,
	}, nil
}

// lookupMarket finds a market, refreshing from the read node once on a miss
func (c *Client) lookupMarket(ctx context.Context, marketID string) (*market.Market, error) {
	m, err := c.registry.Get(marketID)
	if err == nil {
		return m, nil
	}
	if err := c.RefreshMarkets(ctx); err != nil {
		return nil, err
	}
	return c.registry.Get(marketID)
}
