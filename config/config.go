package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultConfigPath = "config/config.toml"
	ConfigFileName    = "config.toml"
	ServiceName       = "issuance-engine"
	ConfigExtension   = ".toml"

	DefaultIssuerNodeHost = "http://localhost:8080"
)

type EngineConfig struct {
	conf.Version
	Issuer     IssuerConfig     `toml:"issuer"`
	Wallet     WalletConfig     `toml:"wallet"`
	OAuth      OAuthConfig      `toml:"oauth"`
	Credential CredentialConfig `toml:"credential"`
	Storage    StorageConfig    `toml:"storage"`
	Log        LogConfig        `toml:"log"`
}

// IssuerConfig points the engine at the on-chain issuer node and tunes the auth polling loop.
type IssuerConfig struct {
	NodeHost       string        `toml:"node_host" conf:"default:http://localhost:8080"`
	RequestTimeout time.Duration `toml:"request_timeout" conf:"default:30s"`
	PollInterval   time.Duration `toml:"poll_interval" conf:"default:2s"`
	// PollMaxAttempts bounds polling; 0 polls until the challenge is resolved or cancelled
	PollMaxAttempts int `toml:"poll_max_attempts" conf:"default:0"`
}

// WalletConfig points the engine at the wallet provider endpoint.
type WalletConfig struct {
	ProviderEndpoint string `toml:"provider_endpoint" conf:"default:http://localhost:8545"`
}

// OAuthConfig carries the social sign-in provider settings.
type OAuthConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret" conf:"noprint"`
	AuthURL      string `toml:"auth_url" conf:"default:https://accounts.google.com/o/oauth2/v2/auth"`
	TokenURL     string `toml:"token_url" conf:"default:https://oauth2.googleapis.com/token"`
	RedirectURL  string `toml:"redirect_url" conf:"default:http://localhost:9876/callback"`
	ListenAddr   string `toml:"listen_addr" conf:"default:127.0.0.1:9876"`
}

// CredentialConfig overrides the published schema references and default expiration.
type CredentialConfig struct {
	Kind              string `toml:"kind" conf:"default:social"`
	SocialSchema      string `toml:"social_schema"`
	BalanceSchema     string `toml:"balance_schema"`
	DefaultExpiration int64  `toml:"default_expiration"`
}

type StorageConfig struct {
	Path string `toml:"path" conf:"default:issuance-engine.db"`
}

type LogConfig struct {
	Level    string `toml:"level" conf:"default:info"`
	Location string `toml:"location"`
}

// LoadConfig attempts to load a TOML config file from the given path, and coerce it into our
// object model. Before loading, defaults are applied on certain properties, which are
// overwritten if specified in the TOML file. A .env file next to the working directory is
// honored when present.
func LoadConfig(path string) (*EngineConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debug("no .env file loaded")
	}

	defaultConfig := false
	if path == "" {
		logrus.Info("no config path provided, loading default config...")
		defaultConfig = true
	} else if filepath.Ext(path) != ConfigExtension {
		return nil, fmt.Errorf("path<%s> did not match the expected TOML format", path)
	}

	var config EngineConfig

	// parse and apply defaults
	if err := conf.Parse(os.Args[1:], ServiceName, &config); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, usageErr := conf.Usage(ServiceName, &config)
			if usageErr != nil {
				return nil, errors.Wrap(usageErr, "parsing config")
			}
			fmt.Println(usage)
			return nil, nil

		case errors.Is(err, conf.ErrVersionWanted):
			version, versionErr := conf.VersionString(ServiceName, &config)
			if versionErr != nil {
				return nil, errors.Wrap(versionErr, "generating config version")
			}
			fmt.Println(version)
			return nil, nil
		}
		return nil, errors.Wrap(err, "parsing config")
	}

	if !defaultConfig {
		// load from TOML file; file values override the parsed defaults
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return nil, errors.Wrapf(err, "could not load config: %s", path)
		}
	}

	return &config, nil
}
