package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skyview-app/skyview/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
address: ":9090"
public_url: "https://skyview.example.com/"
scope: "atproto transition:generic"
dev_mode: false
fallback_auth_server: "https://bsky.social"
state_ttl: "5m"
http_timeout: "20s"
`)

	cfg, err := config.LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Address)
	// trailing slash stripped so derived URLs stay clean
	assert.Equal(t, "https://skyview.example.com", cfg.PublicURL)
	assert.Equal(t, "https://skyview.example.com/oauth/callback", cfg.RedirectURI())
	assert.Equal(t, "https://skyview.example.com/oauth/client-metadata.json", cfg.ClientID())
	assert.Equal(t, 5*time.Minute, cfg.StateTTL.Std())
	assert.Equal(t, 20*time.Second, cfg.HTTPTimeout.Std())
}

func TestLoadConfigFileInvalid(t *testing.T) {
	path := writeConfig(t, `
address: ""
public_url: "not a url"
scope: ""
`)

	_, err := config.LoadConfigFile(path)
	assert.Error(t, err)
}

func TestDevClientID(t *testing.T) {
	cfg := config.Default()
	assert.Contains(t, cfg.ClientID(), "http://localhost?")
	assert.Contains(t, cfg.ClientID(), "redirect_uri=")

	cfg.DevMode = false
	assert.Equal(t, cfg.ClientMetadataURL(), cfg.ClientID())
}

func TestClientMetadataDocument(t *testing.T) {
	cfg := config.Default()
	cfg.DevMode = false

	doc := cfg.ClientMetadata()
	assert.Equal(t, cfg.ClientMetadataURL(), doc.ClientID)
	assert.Equal(t, []string{cfg.RedirectURI()}, doc.RedirectURIs)
	assert.Equal(t, "none", doc.TokenEndpointAuthMethod)
	assert.True(t, doc.DPoPBoundAccessTokens)
}
