// Package config provides configuration loading with layered overrides.
// Load order: defaults -> YAML/JSON file -> environment variables.
package config

import (
	"os"
	"runtime"
	"time"

	configloader "github.com/GabrielNunesIT/go-libs/config-loader"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "PROTOCOL_HUB_"

// Overflow policies for driver queues.
const (
	OverflowBlock      = "BLOCK"
	OverflowDropNewest = "DROP_NEWEST"
)

// Normalizer types.
const (
	NormalizerRules     = "rules"
	NormalizerTrap      = "trap"
	NormalizerParser    = "parser"
	NormalizerLabels    = "labels"
	NormalizerSyslogCPU = "syslog_cpu"
)

// Config is the root configuration structure for protocol-hub.
type Config struct {
	LogLevel    string             `koanf:"loglevel" yaml:"log_level" json:"log_level"`
	Pipeline    PipelineConfig     `koanf:"pipeline"`
	Metrics     MetricsConfig      `koanf:"metrics"`
	MIB         MIBConfig          `koanf:"mib"`
	Drivers     DriverConfig       `koanf:"drivers"`
	Normalizers []NormalizerConfig `koanf:"normalizers"`
	Emitters    EmitterConfig      `koanf:"emitters"`
}

// PipelineConfig controls the handoff between drivers and emitters.
type PipelineConfig struct {
	BufferSize       int           `koanf:"buffersize" yaml:"buffer_size" json:"buffer_size"`
	ShutdownTimeout  time.Duration `koanf:"shutdowntimeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	DropOnFullBuffer bool          `koanf:"droponbufferfull" yaml:"drop_on_full_buffer" json:"drop_on_full_buffer"`
	// HandoffTimeout bounds how long a driver waits on a full buffer when
	// DropOnFullBuffer is false.
	HandoffTimeout time.Duration `koanf:"handofftimeout" yaml:"handoff_timeout" json:"handoff_timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Address string `koanf:"address"`
	Path    string `koanf:"path"`
}

// MIBConfig configures OID symbol enrichment for SNMP traps.
type MIBConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Dir             string   `koanf:"dir"`
	Modules         []string `koanf:"modules"`
	TolerateMissing bool     `koanf:"toleratemissing" yaml:"tolerate_missing" json:"tolerate_missing"`
}

// DriverConfig holds configuration for every protocol driver.
type DriverConfig struct {
	Line    []LineDriverConfig  `koanf:"line"`
	Traps   []TrapDriverConfig  `koanf:"traps"`
	Journal JournalDriverConfig `koanf:"journal"`
}

// LineDriverConfig configures a line-oriented listener (one message per
// datagram or per TCP line).
type LineDriverConfig struct {
	PluginID           string `koanf:"pluginid" yaml:"plugin_id" json:"plugin_id"`
	Network            string `koanf:"network"` // "udp" or "tcp"
	Address            string `koanf:"address"`
	Port               int    `koanf:"port"`
	Protocol           string `koanf:"protocol"`
	MaxMessageBytes    int    `koanf:"maxmessagebytes" yaml:"max_message_bytes" json:"max_message_bytes"`
	ReceiveBufferBytes int    `koanf:"receivebufferbytes" yaml:"receive_buffer_bytes" json:"receive_buffer_bytes"`
	ParseSyslogHeader  bool   `koanf:"parsesyslogheader" yaml:"parse_syslog_header" json:"parse_syslog_header"`
}

// TrapDriverConfig configures a high-throughput SNMP trap listener.
type TrapDriverConfig struct {
	PluginID           string           `koanf:"pluginid" yaml:"plugin_id" json:"plugin_id"`
	Address            string           `koanf:"address"`
	Port               int              `koanf:"port"`
	QueueCapacity      int              `koanf:"queuecapacity" yaml:"queue_capacity" json:"queue_capacity"`
	WorkerThreads      int              `koanf:"workerthreads" yaml:"worker_threads" json:"worker_threads"`
	OverflowPolicy     string           `koanf:"overflowpolicy" yaml:"overflow_policy" json:"overflow_policy"`
	OfferTimeoutMs     int              `koanf:"offertimeoutms" yaml:"offer_timeout_ms" json:"offer_timeout_ms"`
	ReceiveBufferBytes int              `koanf:"receivebufferbytes" yaml:"receive_buffer_bytes" json:"receive_buffer_bytes"`
	MaxMessageBytes    int              `koanf:"maxmessagebytes" yaml:"max_message_bytes" json:"max_message_bytes"`
	Community          string           `koanf:"community"`
	Users              []SNMPUserConfig `koanf:"users"`
}

// OfferTimeout returns the queue offer timeout as a duration.
func (c TrapDriverConfig) OfferTimeout() time.Duration {
	return time.Duration(c.OfferTimeoutMs) * time.Millisecond
}

// SNMPUserConfig is one SNMPv3 USM user.
type SNMPUserConfig struct {
	Username       string `koanf:"username"`
	AuthProtocol   string `koanf:"authprotocol" yaml:"auth_protocol" json:"auth_protocol"`
	AuthPassphrase string `koanf:"authpassphrase" yaml:"auth_passphrase" json:"auth_passphrase"`
	PrivProtocol   string `koanf:"privprotocol" yaml:"priv_protocol" json:"priv_protocol"`
	PrivPassphrase string `koanf:"privpassphrase" yaml:"priv_passphrase" json:"priv_passphrase"`
}

// JournalDriverConfig configures the systemd journal driver.
type JournalDriverConfig struct {
	Enabled  bool     `koanf:"enabled"`
	PluginID string   `koanf:"pluginid" yaml:"plugin_id" json:"plugin_id"`
	Units    []string `koanf:"units"`
}

// NormalizerConfig configures one entry of the normalizer chain. Which
// fields apply depends on Type.
type NormalizerConfig struct {
	Type     string `koanf:"type"`
	Name     string `koanf:"name"`
	PluginID string `koanf:"pluginid" yaml:"plugin_id" json:"plugin_id"`

	// rules / trap
	Mode       string `koanf:"mode"`
	RulesFile  string `koanf:"rulesfile" yaml:"rules_file" json:"rules_file"`
	TrapOIDKey string `koanf:"trapoidkey" yaml:"trap_oid_key" json:"trap_oid_key"`

	// parser
	JSONAutoDetect bool     `koanf:"jsonautodetect" yaml:"json_auto_detect" json:"json_auto_detect"`
	Patterns       []string `koanf:"patterns"` // Regex patterns with named groups

	// labels
	AddHostname  bool              `koanf:"addhostname" yaml:"add_hostname" json:"add_hostname"`
	AddTimestamp bool              `koanf:"addtimestamp" yaml:"add_timestamp" json:"add_timestamp"`
	Tenant       string            `koanf:"tenant"`
	StaticTags   map[string]string `koanf:"statictags" yaml:"static_tags" json:"static_tags"`
}

// EmitterConfig holds configuration for all emitters.
type EmitterConfig struct {
	Stdout        StdoutEmitterConfig        `koanf:"stdout"`
	File          FileEmitterConfig          `koanf:"file"`
	Elasticsearch ElasticsearchEmitterConfig `koanf:"elasticsearch"`
	Loki          LokiEmitterConfig          `koanf:"loki"`
	VictoriaLogs  VictoriaLogsEmitterConfig  `koanf:"victorialogs"`
	NATS          NATSEmitterConfig          `koanf:"nats"`
}

// StdoutEmitterConfig configures the stdout emitter.
type StdoutEmitterConfig struct {
	Enabled bool   `koanf:"enabled"`
	Format  string `koanf:"format"` // "json" or "text"
}

// FileEmitterConfig configures the file emitter.
type FileEmitterConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"maxsizemb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `koanf:"maxbackups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `koanf:"maxagedays" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// ElasticsearchEmitterConfig configures the Elasticsearch emitter.
type ElasticsearchEmitterConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Addresses     []string      `koanf:"addresses"`
	Index         string        `koanf:"index"`
	Username      string        `koanf:"username"`
	Password      string        `koanf:"password"`
	BatchSize     int           `koanf:"batchsize" yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
}

// LokiEmitterConfig configures the Loki emitter.
type LokiEmitterConfig struct {
	Enabled       bool              `koanf:"enabled"`
	URL           string            `koanf:"url"`
	TenantID      string            `koanf:"tenantid" yaml:"tenant_id" json:"tenant_id"`
	Labels        map[string]string `koanf:"labels"`
	BatchSize     int               `koanf:"batchsize" yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration     `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
}

// VictoriaLogsEmitterConfig configures the VictoriaLogs emitter.
type VictoriaLogsEmitterConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	BatchSize     int           `koanf:"batchsize" yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
}

// NATSEmitterConfig configures the NATS emitter.
type NATSEmitterConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	// Subject is the publish subject. With PerProtocol set the lowercased
	// protocol is appended, e.g. "protocolhub.events.snmp_trap".
	Subject       string        `koanf:"subject"`
	PerProtocol   bool          `koanf:"perprotocol" yaml:"per_protocol" json:"per_protocol"`
	Name          string        `koanf:"name"`
	Username      string        `koanf:"username"`
	Password      string        `koanf:"password"`
	Token         string        `koanf:"token"`
	MaxReconnects int           `koanf:"maxreconnects" yaml:"max_reconnects" json:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnectwait" yaml:"reconnect_wait" json:"reconnect_wait"`
	Timeout       time.Duration `koanf:"timeout"`
}

// Trap driver defaults.
const (
	DefaultQueueCapacity      = 65536
	DefaultOverflowPolicy     = OverflowBlock
	DefaultOfferTimeoutMs     = 2
	DefaultReceiveBufferBytes = 128 << 20
	DefaultMaxMessageBytes    = 64 << 10
	DefaultTrapPort           = 162
	DefaultLinePort           = 514
	DefaultLineMaxMessage     = 8192
)

// DefaultWorkerThreads returns max(2, NumCPU).
func DefaultWorkerThreads() int {
	return max(2, runtime.NumCPU())
}

// defaults returns the default configuration values.
func defaults() Config {
	return Config{
		LogLevel: "info",
		Pipeline: PipelineConfig{
			BufferSize:       4096,
			ShutdownTimeout:  30 * time.Second,
			DropOnFullBuffer: false,
			HandoffTimeout:   100 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9464",
			Path:    "/metrics",
		},
		MIB: MIBConfig{
			Enabled: false,
			Dir:     "/usr/share/protocol-hub/mibs",
		},
		Drivers: DriverConfig{
			Journal: JournalDriverConfig{
				Enabled:  false,
				PluginID: "journal",
			},
		},
		Normalizers: []NormalizerConfig{
			{Type: NormalizerTrap, Name: "snmp-trap"},
		},
		Emitters: EmitterConfig{
			Stdout: StdoutEmitterConfig{
				Enabled: true,
				Format:  "json",
			},
			File: FileEmitterConfig{
				Enabled:    false,
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 7,
				Compress:   true,
			},
			Elasticsearch: ElasticsearchEmitterConfig{
				Enabled:       false,
				Index:         "protocol-hub",
				BatchSize:     100,
				FlushInterval: 5 * time.Second,
			},
			Loki: LokiEmitterConfig{
				Enabled:       false,
				BatchSize:     100,
				FlushInterval: 1 * time.Second,
			},
			VictoriaLogs: VictoriaLogsEmitterConfig{
				Enabled:       false,
				BatchSize:     100,
				FlushInterval: 1 * time.Second,
			},
			NATS: NATSEmitterConfig{
				Enabled:       false,
				URL:           "nats://127.0.0.1:4222",
				Subject:       "protocolhub.events",
				Name:          "protocol-hub",
				MaxReconnects: -1,
				ReconnectWait: 2 * time.Second,
				Timeout:       5 * time.Second,
			},
		},
	}
}

// Defaults returns a fully defaulted configuration without reading any
// file or environment.
func Defaults() *Config {
	cfg := defaults()
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values in list entries, which the layered
// loader cannot default. It is safe to call more than once.
func (c *Config) ApplyDefaults() {
	for i := range c.Drivers.Line {
		d := &c.Drivers.Line[i]
		if d.Network == "" {
			d.Network = "udp"
		}
		if d.Port == 0 {
			d.Port = DefaultLinePort
		}
		if d.Protocol == "" {
			d.Protocol = "SYSLOG"
		}
		if d.MaxMessageBytes == 0 {
			d.MaxMessageBytes = DefaultLineMaxMessage
		}
		if d.PluginID == "" {
			d.PluginID = "line-" + d.Network
		}
	}
	for i := range c.Drivers.Traps {
		d := &c.Drivers.Traps[i]
		if d.PluginID == "" {
			d.PluginID = "snmp-trap"
		}
		if d.Port == 0 {
			d.Port = DefaultTrapPort
		}
		if d.QueueCapacity == 0 {
			d.QueueCapacity = DefaultQueueCapacity
		}
		if d.WorkerThreads == 0 {
			d.WorkerThreads = DefaultWorkerThreads()
		}
		if d.OverflowPolicy == "" {
			d.OverflowPolicy = DefaultOverflowPolicy
		}
		if d.OfferTimeoutMs == 0 {
			d.OfferTimeoutMs = DefaultOfferTimeoutMs
		}
		if d.ReceiveBufferBytes == 0 {
			d.ReceiveBufferBytes = DefaultReceiveBufferBytes
		}
		if d.MaxMessageBytes == 0 {
			d.MaxMessageBytes = DefaultMaxMessageBytes
		}
	}
	if c.Drivers.Journal.PluginID == "" {
		c.Drivers.Journal.PluginID = "journal"
	}
	for i := range c.Normalizers {
		n := &c.Normalizers[i]
		if n.Name == "" {
			n.Name = n.Type
		}
	}
}

// Load reads configuration from all sources with proper override order,
// fills list defaults and validates the result.
func Load(configPath string) (*Config, error) {
	opts := []configloader.Option[Config]{
		configloader.WithDefaults[Config](defaults()),
	}

	// Add file source if path provided or if default config exists
	if configPath != "" {
		opts = append(opts, configloader.WithFile[Config](configPath))
	} else {
		for _, path := range []string{"./config.yaml", "/etc/protocol-hub/config.yaml"} {
			if _, err := os.Stat(path); err == nil {
				opts = append(opts, configloader.WithFile[Config](path))
				break
			}
		}
	}

	opts = append(opts, configloader.WithEnv[Config](EnvPrefix))

	loader := configloader.NewConfigLoader[Config](opts...)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// RuleFiles returns every rules file referenced by the normalizer chain.
func (c *Config) RuleFiles() []string {
	var files []string
	for _, n := range c.Normalizers {
		if n.RulesFile != "" {
			files = append(files, n.RulesFile)
		}
	}
	return files
}
