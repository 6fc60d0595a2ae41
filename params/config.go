package params

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/uhyunpark/perpgate/pkg/gateway"
)

type Sequencer struct {
	ContinuumEndpoint string        `envconfig:"FERMI_CONTINUUM_ENDPOINT" validate:"required,url"`
	SubmitTimeout     time.Duration `envconfig:"GATEWAY_SUBMIT_TIMEOUT" validate:"gt=0s"`
	// CancelRetries resends a cancel after a transport failure; orders are never resent
	CancelRetries int           `envconfig:"GATEWAY_CANCEL_RETRIES" validate:"gte=0,lte=10"`
	OrderTTL      time.Duration `envconfig:"GATEWAY_ORDER_TTL" validate:"gte=0s"`
}

type ReadNode struct {
	RPCEndpoint string `envconfig:"FERMI_RPC_ENDPOINT" validate:"required,url"`
	ReadRetries int    `envconfig:"GATEWAY_READ_RETRIES" validate:"gte=0,lte=10"`
}

type Storage struct {
	// JournalPath is a pebble directory; empty keeps the journal in memory
	JournalPath string `envconfig:"GATEWAY_JOURNAL_PATH"`
	AssetsFile  string `envconfig:"GATEWAY_ASSETS_FILE"`
	// EventLogPath receives one JSON line per finished submission; empty disables it
	EventLogPath string `envconfig:"GATEWAY_EVENT_LOG"`
}

type Node struct {
	APIAddr        string   `envconfig:"API_ADDR" validate:"required"`
	AllowedOrigins []string `envconfig:"API_ALLOWED_ORIGINS"`
	LogFile        string   `envconfig:"LOG_FILE"`
	LogLevel       string   `envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

type Config struct {
	Sequencer Sequencer
	ReadNode  ReadNode
	Storage   Storage
	Node      Node
}

func Default() Config {
	return Config{
		Sequencer: Sequencer{
			ContinuumEndpoint: "http://localhost:9090",
			SubmitTimeout:     10 * time.Second,
			CancelRetries:     0,
			OrderTTL:          time.Hour,
		},
		ReadNode: ReadNode{
			RPCEndpoint: "http://localhost:8080",
			ReadRetries: 3,
		},
		Storage: Storage{
			JournalPath:  "data/journal",
			EventLogPath: "data/submissions.log",
		},
		Node: Node{
			APIAddr:  ":8090",
			LogFile:  "data/gateway.log",
			LogLevel: "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// optional: a missing .env is not an error
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// GatewayConfig is the part of the config the gateway client takes
func (c Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		ContinuumEndpoint: c.Sequencer.ContinuumEndpoint,
		RPCEndpoint:       c.ReadNode.RPCEndpoint,
		SubmitTimeout:     c.Sequencer.SubmitTimeout,
		ReadRetries:       c.ReadNode.ReadRetries,
		CancelRetries:     c.Sequencer.CancelRetries,
		OrderTTL:          c.Sequencer.OrderTTL,
	}
}
