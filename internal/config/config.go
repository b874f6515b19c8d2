package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

const (
	SinkLog   = "log"
	SinkKafka = "kafka"
	SinkNATS  = "nats"
)

// Config holds everything cmd/server needs to assemble the service.
type Config struct {
	HTTPAddr       string
	DatabaseURL    string // empty selects the in-memory store
	EventSink      string
	KafkaBrokers   []string
	KafkaTopic     string
	NATSURL        string
	NATSSubject    string
	LedgerAddress  common.Address
	AdminAddress   common.Address
	ReserveFunding string // whole loan-asset units minted to the ledger at boot
	LogLevel       string
}

// Default returns the settings used when no variable overrides them.
func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		EventSink:      SinkLog,
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaTopic:     "lending_ledger_events",
		NATSURL:        "nats://127.0.0.1:4222",
		NATSSubject:    "lending",
		LedgerAddress:  common.HexToAddress("0x000000000000000000000000000000000000c0de"),
		AdminAddress:   common.HexToAddress("0x000000000000000000000000000000000000ad01"),
		ReserveFunding: "1000",
		LogLevel:       "info",
	}
}

// Load reads envFile into the process environment when it exists, then builds
// a Config from LEDGER_* variables on top of Default.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config using lookup for each variable.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("LEDGER_HTTP_ADDR", &cfg.HTTPAddr)
	str("LEDGER_DATABASE_URL", &cfg.DatabaseURL)
	str("LEDGER_EVENT_SINK", &cfg.EventSink)
	str("LEDGER_KAFKA_TOPIC", &cfg.KafkaTopic)
	str("LEDGER_NATS_URL", &cfg.NATSURL)
	str("LEDGER_NATS_SUBJECT", &cfg.NATSSubject)
	str("LEDGER_RESERVE_FUNDING", &cfg.ReserveFunding)
	str("LEDGER_LOG_LEVEL", &cfg.LogLevel)

	if v, ok := lookup("LEDGER_KAFKA_BROKERS"); ok && strings.TrimSpace(v) != "" {
		cfg.KafkaBrokers = splitList(v)
	}

	var err error
	if cfg.LedgerAddress, err = address(lookup, "LEDGER_ADDRESS", cfg.LedgerAddress); err != nil {
		return Config{}, err
	}
	if cfg.AdminAddress, err = address(lookup, "LEDGER_ADMIN_ADDRESS", cfg.AdminAddress); err != nil {
		return Config{}, err
	}

	cfg.EventSink = strings.ToLower(cfg.EventSink)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.EventSink {
	case SinkLog:
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("config: LEDGER_KAFKA_BROKERS is empty")
		}
		if c.KafkaTopic == "" {
			return errors.New("config: LEDGER_KAFKA_TOPIC is empty")
		}
	case SinkNATS:
		if c.NATSURL == "" {
			return errors.New("config: LEDGER_NATS_URL is empty")
		}
	default:
		return fmt.Errorf("config: unknown event sink %q", c.EventSink)
	}
	if c.LedgerAddress == (common.Address{}) {
		return errors.New("config: ledger address must not be zero")
	}
	if c.LedgerAddress == c.AdminAddress {
		return errors.New("config: ledger and admin addresses must differ")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log level: %w", err)
	}
	return nil
}

func address(lookup func(string) (string, bool), key string, fallback common.Address) (common.Address, error) {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("config: %s: invalid address %q", key, v)
	}
	return common.HexToAddress(v), nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
