package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Environment variable names read by LoadFromEnv.
const (
	EnvTransport          = "BRIDGE_TRANSPORT"
	EnvAMQPHost           = "AMQP_HOST"
	EnvAMQPUsername       = "AMQP_USERNAME"
	EnvAMQPPassword       = "AMQP_PASSWORD"
	EnvAMQPPort           = "AMQP_PORT"
	EnvAMQPTLS            = "AMQP_TLS"
	EnvAMQPLinkCredit     = "AMQP_LINK_CREDIT"
	EnvSenderAddress      = "SENDER_ADDRESS"
	EnvIdentity           = "POD_NAME"
	EnvHTTPPort           = "HTTP_PORT"
	EnvSendTimeout        = "SEND_TIMEOUT"
	EnvIdleTimeout        = "IDLE_TIMEOUT"
	EnvShutdownTimeout    = "SHUTDOWN_TIMEOUT"
	EnvRequireCredit      = "BRIDGE_REQUIRE_CREDIT"
	EnvMetricsNamespace   = "METRICS_NAMESPACE"
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogFormat          = "LOG_FORMAT"
	EnvKafkaBrokers       = "KAFKA_BROKERS"
	EnvNATSURL            = "NATS_URL"
	EnvHTTPPublisherURL   = "HTTP_PUBLISHER_URL"
	EnvAWSRegion          = "AWS_REGION"
	EnvAWSAccountID       = "AWS_ACCOUNT_ID"
	EnvAWSAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvAWSSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvAWSEndpoint        = "AWS_ENDPOINT"
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Flags holds the command line options of the bridge binary.
type Flags struct {
	ConfigPath string
	ShowConfig bool
}

// ParseFlags parses the command line. Unknown flags are an error.
func ParseFlags(name string, args []string) (Flags, error) {
	var flags Flags
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&flags.ConfigPath, "config", "c", "", "optional YAML file with base configuration")
	fs.BoolVar(&flags.ShowConfig, "show-config", false, "print the effective configuration (secrets redacted) and exit")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return flags, nil
}

// Load builds the configuration: YAML base file (when path is set), then
// environment overrides, then defaults. The result is validated.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(path string, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv reads the configuration from the process environment only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with every variable that is set. Malformed numbers,
// booleans and durations are collected and returned together.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	e := envReader{lookup: lookup}

	e.str(EnvTransport, &cfg.Transport)
	e.str(EnvAMQPHost, &cfg.AMQPHost)
	e.str(EnvAMQPUsername, &cfg.AMQPUsername)
	e.str(EnvAMQPPassword, &cfg.AMQPPassword)
	e.int(EnvAMQPPort, &cfg.AMQPPort)
	e.int(EnvAMQPLinkCredit, &cfg.AMQPLinkCredit)
	e.str(EnvSenderAddress, &cfg.SenderAddress)
	e.str(EnvIdentity, &cfg.Identity)
	e.int(EnvHTTPPort, &cfg.HTTPPort)
	e.duration(EnvSendTimeout, &cfg.SendTimeout)
	e.duration(EnvIdleTimeout, &cfg.IdleTimeout)
	e.duration(EnvShutdownTimeout, &cfg.ShutdownTimeout)
	e.bool(EnvRequireCredit, &cfg.RequireCredit)
	e.str(EnvMetricsNamespace, &cfg.MetricsNamespace)
	e.str(EnvLogLevel, &cfg.LogLevel)
	e.str(EnvLogFormat, &cfg.LogFormat)
	e.list(EnvKafkaBrokers, &cfg.KafkaBrokers)
	e.str(EnvNATSURL, &cfg.NATSURL)
	e.str(EnvHTTPPublisherURL, &cfg.HTTPPublisherURL)
	e.str(EnvAWSRegion, &cfg.AWSRegion)
	e.str(EnvAWSAccountID, &cfg.AWSAccountID)
	e.str(EnvAWSAccessKeyID, &cfg.AWSAccessKeyID)
	e.str(EnvAWSSecretAccessKey, &cfg.AWSSecretAccessKey)
	e.str(EnvAWSEndpoint, &cfg.AWSEndpoint)

	if val, ok := e.get(EnvAMQPTLS); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(EnvAMQPTLS, err)
		} else {
			cfg.AMQPTLS = &b
		}
	}

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	val, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	val = strings.TrimSpace(val)
	return val, val != ""
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
}

func (e *envReader) str(key string, dst *string) {
	if val, ok := e.get(key); ok {
		*dst = val
	}
}

func (e *envReader) int(key string, dst *int) {
	val, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = n
}

func (e *envReader) bool(key string, dst *bool) {
	val, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = b
}

// duration accepts Go durations ("10s") and bare integers as milliseconds.
func (e *envReader) duration(key string, dst *time.Duration) {
	val, ok := e.get(key)
	if !ok {
		return
	}
	if ms, err := strconv.Atoi(val); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}

func (e *envReader) list(key string, dst *[]string) {
	val, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
