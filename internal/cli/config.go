package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration file. Flags and DIRSRV_*
// environment variables take precedence over it.
type FileConfig struct {
	URL            string        `yaml:"url"`
	BindDN         string        `yaml:"bind_dn" default:"cn=Directory Manager"`
	BindPassword   string        `yaml:"bind_password"`
	SkipTLSVerify  bool          `yaml:"skip_tls_verify"`
	TLSCACertFile  string        `yaml:"tls_ca_cert_file"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	Output         string        `yaml:"output" default:"text"`
	LogLevel       string        `yaml:"log_level" default:"warn"`
	LogFormat      string        `yaml:"log_format" default:"text"`
	Init           InitConfig    `yaml:"init"`
}

// InitConfig holds the defaults of the agreement init and wait commands.
type InitConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" default:"1s"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts" default:"5"`
}

// LoadConfig reads path, when set, and fills unset fields with defaults.
func LoadConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying config defaults: %w", err)
	}
	return cfg, nil
}
