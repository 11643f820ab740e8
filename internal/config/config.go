// Package config loads service settings from a YAML file, environment
// overrides and an optional Vault KV v2 secret source. Precedence is
// file < environment < Vault, so credentials never need to live on disk.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full settings tree of the ingestion service.
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	Bus struct {
		Endpoint string `yaml:"endpoint"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		ClientID string `yaml:"client_id"`
		QoS      int    `yaml:"qos"`
	} `yaml:"bus"`

	Store struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
		// TLSCA and TLSClient are file paths; TLSClient holds the
		// concatenated client certificate and key.
		TLSCA     string `yaml:"tls_ca"`
		TLSClient string `yaml:"tls_client"`
	} `yaml:"store"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	DefaultHospitalID string `yaml:"default_hospital_id"`

	Pipeline struct {
		InFlightPerPipeline int `yaml:"in_flight_per_pipeline"`
		PersistRetryBudget  int `yaml:"persist_retry_budget"`
	} `yaml:"pipeline"`

	Fanout struct {
		OutboundBuffer int    `yaml:"outbound_buffer"`
		JWTSecret      string `yaml:"jwt_secret"`
	} `yaml:"fanout"`

	Emitter struct {
		QueueCapacity int    `yaml:"queue_capacity"`
		IngestURL     string `yaml:"ingest_url"`
		Token         string `yaml:"token"`
	} `yaml:"emitter"`

	EventLog struct {
		RetentionDays int   `yaml:"retention_days"`
		PageLimitMax  int64 `yaml:"page_limit_max"`
	} `yaml:"eventlog"`

	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`
}

// Default returns the settings a bare development deployment runs with.
func Default() Config {
	var c Config
	c.Listen = ":8080"
	c.LogLevel = "info"
	c.Bus.Endpoint = "tcp://localhost:1883"
	c.Bus.QoS = 1
	c.Store.URI = "mongodb://localhost:27017"
	c.Store.Database = "stardust"
	c.Redis.Addr = "localhost:6379"
	c.Pipeline.InFlightPerPipeline = 4
	c.Pipeline.PersistRetryBudget = 3
	c.Fanout.OutboundBuffer = 256
	c.Emitter.QueueCapacity = 1024
	c.Emitter.IngestURL = "http://localhost:8080/api/event-log"
	c.EventLog.RetentionDays = 30
	c.EventLog.PageLimitMax = 500
	return c
}

// Load reads the YAML file at path (empty skips the file), then applies
// environment and Vault overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.applyVault(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	str(&c.Listen, "LISTEN_ADDR")
	str(&c.LogLevel, "LOG_LEVEL")
	str(&c.Bus.Endpoint, "MQTT_ENDPOINT")
	str(&c.Bus.Username, "MQTT_USERNAME")
	str(&c.Bus.Password, "MQTT_PASSWORD")
	str(&c.Bus.ClientID, "MQTT_CLIENT_ID")
	num(&c.Bus.QoS, "MQTT_QOS")
	str(&c.Store.URI, "MONGO_URI")
	str(&c.Store.Database, "MONGO_DATABASE")
	str(&c.Store.TLSCA, "MONGO_TLS_CA")
	str(&c.Store.TLSClient, "MONGO_TLS_CLIENT")
	str(&c.Redis.Addr, "REDIS_ADDR")
	str(&c.Redis.Password, "REDIS_PASSWORD")
	str(&c.DefaultHospitalID, "DEFAULT_HOSPITAL_ID")
	str(&c.Fanout.JWTSecret, "JWT_SECRET")
	str(&c.Emitter.IngestURL, "EVENT_LOG_URL")
	str(&c.Emitter.Token, "EVENT_LOG_TOKEN")
	str(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// applySecrets copies recognized Vault keys over the current values.
// Key names use flat upper snake case so the same secret document
// serves compose files and Vault.
func (c *Config) applySecrets(secrets map[string]interface{}) {
	pick := func(dst *string, key string) {
		if v, ok := secrets[key].(string); ok && v != "" {
			*dst = v
		}
	}
	pick(&c.Bus.Username, "MQTT_USERNAME")
	pick(&c.Bus.Password, "MQTT_PASSWORD")
	pick(&c.Store.URI, "MONGO_URI")
	pick(&c.Redis.Password, "REDIS_PASSWORD")
	pick(&c.Fanout.JWTSecret, "JWT_SECRET")
	pick(&c.Emitter.Token, "EVENT_LOG_TOKEN")
}

// StoreURI returns the store connection string with the TLS material
// folded into the URI options the driver understands.
func (c *Config) StoreURI() string {
	if c.Store.TLSCA == "" && c.Store.TLSClient == "" {
		return c.Store.URI
	}
	sep := "?"
	if strings.Contains(c.Store.URI, "?") {
		sep = "&"
	}
	params := []string{"tls=true"}
	if c.Store.TLSCA != "" {
		params = append(params, "tlsCAFile="+url.QueryEscape(c.Store.TLSCA))
	}
	if c.Store.TLSClient != "" {
		params = append(params, "tlsCertificateKeyFile="+url.QueryEscape(c.Store.TLSClient))
	}
	return c.Store.URI + sep + strings.Join(params, "&")
}

func (c *Config) validate() error {
	if c.Bus.Endpoint == "" {
		return fmt.Errorf("bus.endpoint is required")
	}
	if c.Store.URI == "" {
		return fmt.Errorf("store.uri is required")
	}
	if c.Bus.QoS < 0 || c.Bus.QoS > 2 {
		return fmt.Errorf("bus.qos must be 0, 1 or 2, got %d", c.Bus.QoS)
	}
	if c.EventLog.PageLimitMax < 1 {
		return fmt.Errorf("eventlog.page_limit_max must be positive")
	}
	return nil
}

func str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func num(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
