// Process configuration, loaded once at startup.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/skyview-app/skyview/pkg/oauth2"
	"gopkg.in/yaml.v3"
)

// Duration makes time.Duration usable in YAML ("10m", "15s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	// Address the HTTP server listens on.
	Address string `yaml:"address" validate:"required"`
	// PublicURL is the base URL this app is reachable under, without a
	// trailing slash. Everything else (redirect URI, client metadata
	// URL) derives from it.
	PublicURL string `yaml:"public_url" validate:"required,url"`
	// Scope requested during authorization.
	Scope string `yaml:"scope" validate:"required"`
	// DevMode relaxes cookies and switches to the localhost client-id
	// pattern against a local PDS.
	DevMode   bool   `yaml:"dev_mode"`
	DevPDSURL string `yaml:"dev_pds_url" validate:"omitempty,url"`
	// FallbackAuthServer handles logins started without an account
	// hint.
	FallbackAuthServer string `yaml:"fallback_auth_server" validate:"omitempty,url"`
	// RedisAddr switches both stores from in-memory maps to Redis when
	// set.
	RedisAddr string `yaml:"redis_addr"`
	// CookieSignKey is the base64-encoded HMAC key for the session
	// cookie. Generated at startup in dev mode when empty.
	CookieSignKey string `yaml:"cookie_sign_key"`
	ClientName    string `yaml:"client_name"`

	HTTPTimeout Duration `yaml:"http_timeout"`
	StateTTL    Duration `yaml:"state_ttl"`
	SessionTTL  Duration `yaml:"session_ttl"`
}

// Default returns the development configuration used when no config
// file exists.
func Default() *Config {
	return &Config{
		Address:            ":8080",
		PublicURL:          "http://127.0.0.1:8080",
		Scope:              "atproto transition:generic",
		DevMode:            true,
		DevPDSURL:          "http://localhost:2583",
		FallbackAuthServer: "https://bsky.social",
		ClientName:         "skyview",
		HTTPTimeout:        Duration(15 * time.Second),
		StateTTL:           Duration(10 * time.Minute),
		SessionTTL:         Duration(7 * 24 * time.Hour),
	}
}

func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}
	config.PublicURL = strings.TrimRight(config.PublicURL, "/")

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if config.DevMode && config.DevPDSURL == "" {
		return nil, fmt.Errorf("validate config: dev_mode requires dev_pds_url")
	}

	return config, nil
}

// RedirectURI is where the authorization server sends the user back to.
func (c *Config) RedirectURI() string {
	return c.PublicURL + "/oauth/callback"
}

// ClientMetadataURL is the well-known location of the hosted client
// metadata document; it doubles as the production client identifier.
func (c *Config) ClientMetadataURL() string {
	return c.PublicURL + "/oauth/client-metadata.json"
}

// ClientID derives the client identifier: the loopback pattern in dev
// mode, the metadata document URL otherwise.
func (c *Config) ClientID() string {
	if c.DevMode {
		return oauth2.LocalhostClientID(c.RedirectURI(), c.Scope)
	}
	return c.ClientMetadataURL()
}

// ClientMetadata builds the hosted client metadata document.
func (c *Config) ClientMetadata() *oauth2.ClientMetadata {
	return &oauth2.ClientMetadata{
		ClientID:                c.ClientID(),
		ClientName:              c.ClientName,
		ClientURI:               c.PublicURL,
		RedirectURIs:            []string{c.RedirectURI()},
		Scope:                   c.Scope,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ApplicationType:         "web",
		TokenEndpointAuthMethod: "none",
		DPoPBoundAccessTokens:   true,
	}
}
