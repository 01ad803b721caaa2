package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	ManagementEndpointEnv = "FB_MGMT_VIP"
	ManagementTokenEnv    = "FB_MGMT_TOKEN"
)

const (
	FormatSpark       = "spark"
	FormatCredentials = "credentials"
)

type Config struct {
	Account    string           `toml:"account"`
	User       string           `toml:"user"`
	Format     string           `toml:"format"`
	Outfile    string           `toml:"outfile"`
	Management ManagementConfig `toml:"management"`
	S3         S3Config         `toml:"s3"`
}

type ManagementConfig struct {
	APIVersion         string `toml:"api_version"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	DataService        string `toml:"data_service"`
}

type S3Config struct {
	Region    string `toml:"region"`
	Scheme    string `toml:"scheme"`
	PathStyle bool   `toml:"path_style"`
}

// Env holds the management credentials, which are only ever read from the
// environment.
type Env struct {
	Endpoint string
	Token    string
}

func DefaultConfig() *Config {
	return &Config{
		Account: "datateam",
		User:    "spark",
		Format:  FormatSpark,
		Outfile: "",
		Management: ManagementConfig{
			APIVersion:         "1.8",
			InsecureSkipVerify: true,
			DataService:        "data",
		},
		S3: S3Config{
			Region:    "us-east-1",
			Scheme:    "http",
			PathStyle: true,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, err
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadEnv reads the management endpoint and token. Every missing variable is
// reported in a single error.
func LoadEnv() (Env, error) {
	var missing []string

	endpoint := strings.TrimSpace(os.Getenv(ManagementEndpointEnv))
	if endpoint == "" {
		missing = append(missing, ManagementEndpointEnv)
	}
	token := strings.TrimSpace(os.Getenv(ManagementTokenEnv))
	if token == "" {
		missing = append(missing, ManagementTokenEnv)
	}

	if len(missing) > 0 {
		return Env{}, fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}
	return Env{Endpoint: endpoint, Token: token}, nil
}

func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Account == "" {
		c.Account = defaults.Account
	}
	if c.User == "" {
		c.User = defaults.User
	}
	if c.Format == "" {
		c.Format = defaults.Format
	}
	if c.Management.APIVersion == "" {
		c.Management.APIVersion = defaults.Management.APIVersion
	}
	if c.Management.DataService == "" {
		c.Management.DataService = defaults.Management.DataService
	}
	if c.S3.Region == "" {
		c.S3.Region = defaults.S3.Region
	}
	if c.S3.Scheme == "" {
		c.S3.Scheme = defaults.S3.Scheme
	}
}

func (c *Config) Normalize() {
	c.Account = strings.TrimSpace(c.Account)
	c.User = strings.TrimSpace(c.User)
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	c.Outfile = strings.TrimSpace(c.Outfile)
	c.Management.APIVersion = strings.TrimPrefix(strings.TrimSpace(c.Management.APIVersion), "v")
	c.Management.DataService = strings.TrimSpace(c.Management.DataService)
	c.S3.Region = strings.TrimSpace(c.S3.Region)
	c.S3.Scheme = strings.ToLower(strings.TrimSpace(c.S3.Scheme))
}

func (c *Config) Validate() error {
	if c.Account == "" {
		return errors.New("account is required")
	}
	if strings.Contains(c.Account, "/") {
		return errors.New("account must not contain '/'")
	}
	if c.User == "" {
		return errors.New("user is required")
	}
	if strings.Contains(c.User, "/") {
		return errors.New("user must not contain '/'")
	}

	switch c.Format {
	case FormatSpark, FormatCredentials:
	default:
		return errors.New("format must be spark or credentials")
	}

	switch c.S3.Scheme {
	case "http", "https":
	default:
		return errors.New("s3 scheme must be http or https")
	}
	return nil
}

// AccountUser is the composite name the array uses for object store users.
func (c *Config) AccountUser() string {
	return c.Account + "/" + c.User
}

// BucketName is the working bucket created for the user.
func (c *Config) BucketName() string {
	return c.User + "-working"
}

// OutputPath returns the configured outfile, or the default for the format.
func (c *Config) OutputPath() string {
	if c.Outfile != "" {
		return c.Outfile
	}
	return DefaultOutfile(c.Format)
}

func DefaultOutfile(format string) string {
	if format == FormatCredentials {
		return "credentials"
	}
	return "spark-defaults.conf"
}
