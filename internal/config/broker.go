package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Broker defaults.
const (
	DefaultBrokerAddr = "0.0.0.0"
	DefaultBrokerPort = 4222
)

// BrokerConfig holds the options of the NATS server backing the JetStream store.
// Every option maps to a nats-server flag; environment variables carry the
// RTM_JS_SERVER_ prefix (RTM_JS_SERVER_PORT, RTM_JS_SERVER_TLSCERT, ...).
type BrokerConfig struct {
	Server    BrokerServerConfig    `yaml:"server"`
	Auth      BrokerAuthConfig      `yaml:"auth"`
	TLS       BrokerTLSConfig       `yaml:"tls"`
	Cluster   BrokerClusterConfig   `yaml:"cluster"`
	JetStream BrokerJetStreamConfig `yaml:"jetstream"`
	Logging   BrokerLoggingConfig   `yaml:"logging"`
}

// BrokerServerConfig holds the server options.
type BrokerServerConfig struct {
	// Addr is the host address to bind to (default: 0.0.0.0, all interfaces).
	Addr string `yaml:"addr" env:"ADDR"`
	// Port is the client port (default: 4222).
	Port int `yaml:"port" env:"PORT"`
	// ClientAdvertise is the client host:port advertised to other servers.
	ClientAdvertise string `yaml:"client_advertise" env:"CLIENT_ADVERTISE"`
	// ConfigFile is the path to a nats-server configuration file.
	ConfigFile string `yaml:"config" env:"CONFIG"`
	// HTTPPort is the monitoring port, exclusive of HTTPSPort.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// HTTPSPort is the TLS monitoring port, exclusive of HTTPPort.
	HTTPSPort int `yaml:"https_port" env:"HTTPS_PORT"`
	// PIDFile stores the process id.
	PIDFile string `yaml:"pid" env:"PID"`
}

// BrokerAuthConfig holds the authentication options.
type BrokerAuthConfig struct {
	User  string `yaml:"user" env:"USER"`
	Pass  string `yaml:"pass" env:"PASS"`
	Token string `yaml:"auth" env:"AUTH"`
}

// BrokerTLSConfig holds the TLS options.
type BrokerTLSConfig struct {
	Enabled bool   `yaml:"tls" env:"TLS"`
	Cert    string `yaml:"tlscert" env:"TLSCERT"`
	Key     string `yaml:"tlskey" env:"TLSKEY"`
	Verify  bool   `yaml:"tlsverify" env:"TLSVERIFY"`
	CACert  string `yaml:"tlscacert" env:"TLSCACERT"`
}

// BrokerClusterConfig holds the clustering options.
type BrokerClusterConfig struct {
	// Routes is a comma-separated list of cluster URLs to solicit and connect.
	Routes           string `yaml:"routes" env:"ROUTES"`
	Cluster          string `yaml:"cluster" env:"CLUSTER"`
	NoAdvertise      bool   `yaml:"no_advertise" env:"NO_ADVERTISE"`
	ClusterAdvertise string `yaml:"cluster_advertise" env:"CLUSTER_ADVERTISE"`
	ConnectRetries   int    `yaml:"connect_retries" env:"CONNECT_RETRIES"`
}

// BrokerJetStreamConfig holds the JetStream options.
type BrokerJetStreamConfig struct {
	Enabled  bool   `yaml:"enabled" env:"JETSTREAM"`
	StoreDir string `yaml:"store_dir" env:"STOREDIR"`
}

// BrokerLoggingConfig holds the logging options.
type BrokerLoggingConfig struct {
	// LogFile redirects log output.
	LogFile string `yaml:"log" env:"LOG"`
	// DisableLogTime turns off timestamps in log entries.
	DisableLogTime bool   `yaml:"disable_logtime" env:"NO_LOGTIME"`
	Syslog         bool   `yaml:"syslog" env:"SYSLOG"`
	RemoteSyslog   string `yaml:"remote_syslog" env:"REMOTE_SYSLOG"`
	Debug          bool   `yaml:"debug" env:"V"`
	Trace          bool   `yaml:"trace" env:"VV"`
	// MaxTracedMsgLen limits printable traced messages, 0 for unlimited.
	MaxTracedMsgLen int `yaml:"max_traced_msg_len" env:"MAX_MSG_LEN"`
}

// DefaultBrokerConfig returns the broker options of a plain local server.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Server: BrokerServerConfig{
			Addr: DefaultBrokerAddr,
			Port: DefaultBrokerPort,
		},
	}
}

// Validate reports missing values and mutually exclusive options.
func (c BrokerConfig) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("%w: broker.server.addr", ErrMissingRequired))
	}
	for name, port := range map[string]int{
		"port": c.Server.Port, "http_port": c.Server.HTTPPort, "https_port": c.Server.HTTPSPort,
	} {
		if port < 0 || port > 65535 || (name == "port" && port == 0) {
			errs = append(errs, fmt.Errorf("broker.server.%s must be between 1 and 65535, got %d", name, port))
		}
	}
	if c.Server.HTTPPort != 0 && c.Server.HTTPSPort != 0 {
		errs = append(errs, fmt.Errorf("%w: broker http_port is exclusive of https_port", ErrConflictingOptions))
	}

	if c.Auth.Token != "" && (c.Auth.User != "" || c.Auth.Pass != "") {
		errs = append(errs, fmt.Errorf("%w: broker auth token is exclusive of user and pass", ErrConflictingOptions))
	}
	if (c.Auth.User == "") != (c.Auth.Pass == "") {
		errs = append(errs, errors.New("broker user and pass must be set together"))
	}

	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		errs = append(errs, errors.New("broker tlscert and tlskey must be set together"))
	}
	if c.TLS.Verify && c.TLS.CACert == "" {
		errs = append(errs, fmt.Errorf("%w: broker tlsverify needs tlscacert", ErrMissingRequired))
	}

	if c.Cluster.ConnectRetries < 0 {
		errs = append(errs, errors.New("broker connect_retries must not be negative"))
	}
	if c.JetStream.StoreDir != "" && !c.JetStream.Enabled {
		errs = append(errs, fmt.Errorf("%w: broker store_dir needs jetstream", ErrConflictingOptions))
	}
	if c.Logging.MaxTracedMsgLen < 0 {
		errs = append(errs, errors.New("broker max_traced_msg_len must not be negative"))
	}

	return errors.Join(errs...)
}

// Flags renders the options as nats-server command line arguments.
// Unset options are omitted.
func (c BrokerConfig) Flags() []string {
	var f flags

	f.value("addr", c.Server.Addr)
	f.value("client_advertise", c.Server.ClientAdvertise)
	f.value("config", c.Server.ConfigFile)
	f.port("http_port", c.Server.HTTPPort)
	f.port("https_port", c.Server.HTTPSPort)
	f.value("pid", c.Server.PIDFile)
	f.port("port", c.Server.Port)

	f.value("user", c.Auth.User)
	f.value("pass", c.Auth.Pass)
	f.value("auth", c.Auth.Token)

	f.toggle("tls", c.TLS.Enabled)
	f.value("tlscert", c.TLS.Cert)
	f.value("tlskey", c.TLS.Key)
	f.toggle("tlsverify", c.TLS.Verify)
	f.value("tlscacert", c.TLS.CACert)

	f.value("routes", c.Cluster.Routes)
	f.value("cluster", c.Cluster.Cluster)
	f.toggle("no_advertise", c.Cluster.NoAdvertise)
	f.value("cluster_advertise", c.Cluster.ClusterAdvertise)
	f.port("connect_retries", c.Cluster.ConnectRetries)

	f.toggle("jetstream", c.JetStream.Enabled)
	f.value("store_dir", c.JetStream.StoreDir)

	f.value("log", c.Logging.LogFile)
	if c.Logging.DisableLogTime {
		f = append(f, "--logtime=false")
	}
	f.toggle("syslog", c.Logging.Syslog)
	f.value("remote_syslog", c.Logging.RemoteSyslog)
	f.toggle("debug", c.Logging.Debug)
	f.toggle("trace", c.Logging.Trace)
	f.port("max_traced_msg_len", c.Logging.MaxTracedMsgLen)

	return f
}

// String renders the flags with a leading space before each, e.g. " --addr 0.0.0.0 --port 4222".
func (c BrokerConfig) String() string {
	var b strings.Builder
	for _, arg := range c.Flags() {
		b.WriteByte(' ')
		b.WriteString(arg)
	}
	return b.String()
}

type flags []string

func (f *flags) value(name, v string) {
	if v != "" {
		*f = append(*f, "--"+name, v)
	}
}

func (f *flags) port(name string, v int) {
	if v > 0 {
		*f = append(*f, "--"+name, strconv.Itoa(v))
	}
}

func (f *flags) toggle(name string, on bool) {
	if on {
		*f = append(*f, "--"+name)
	}
}
