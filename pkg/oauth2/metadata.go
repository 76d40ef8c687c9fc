package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// OAuth 2.0 Authorization Server Metadata
// See https://datatracker.ietf.org/doc/html/rfc8414
type ServerMetadata struct {
	Issuer                             string   `json:"issuer"`
	AuthorizationEndpoint              string   `json:"authorization_endpoint"`
	TokenEndpoint                      string   `json:"token_endpoint"`
	JwksURI                            string   `json:"jwks_uri,omitempty"`
	PushedAuthorizationRequestEndpoint string   `json:"pushed_authorization_request_endpoint,omitempty"`
	ScopesSupported                    []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported             []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported                []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported  []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported      []string `json:"code_challenge_methods_supported,omitempty"`
	DPoPSigningAlgValuesSupported      []string `json:"dpop_signing_alg_values_supported,omitempty"`
}

// OAuth 2.0 Protected Resource Metadata, served by an AT Protocol PDS
// to advertise its authorization servers.
// See https://datatracker.ietf.org/doc/html/rfc9728
type ProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
}

// ClientMetadata is the client metadata document a production
// deployment hosts at a well-known path on its own public URL. The
// client_id is the URL of the document itself.
type ClientMetadata struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	Scope                   string   `json:"scope"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	ApplicationType         string   `json:"application_type"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	DPoPBoundAccessTokens   bool     `json:"dpop_bound_access_tokens"`
	JwksURI                 string   `json:"jwks_uri,omitempty"`
}

// LocalhostClientID builds the development client identifier pattern:
// a loopback URL carrying redirect URI and scope, so the authorization
// server can recover both without a pre-registered client record.
func LocalhostClientID(redirectURI, scope string) string {
	params := url.Values{}
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", scope)
	return "http://localhost?" + params.Encode()
}

func buildServerMetadataURL(issuer string) string {
	return strings.TrimRight(issuer, "/") + "/.well-known/oauth-authorization-server"
}

func buildProtectedResourceMetadataURL(resource string) string {
	return strings.TrimRight(resource, "/") + "/.well-known/oauth-protected-resource"
}

func fetchJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response from %s: %w", url, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}

	return nil
}

// FetchServerMetadata retrieves the RFC 8414 metadata document of an
// authorization server.
func FetchServerMetadata(ctx context.Context, client *http.Client, issuer string) (*ServerMetadata, error) {
	var metadata ServerMetadata
	if err := fetchJSON(ctx, client, buildServerMetadataURL(issuer), &metadata); err != nil {
		return nil, err
	}

	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("incomplete server metadata from %s", issuer)
	}

	return &metadata, nil
}

// FetchProtectedResourceMetadata retrieves the RFC 9728 metadata of a
// resource server, typically a PDS.
func FetchProtectedResourceMetadata(ctx context.Context, client *http.Client, resource string) (*ProtectedResourceMetadata, error) {
	var metadata ProtectedResourceMetadata
	if err := fetchJSON(ctx, client, buildProtectedResourceMetadataURL(resource), &metadata); err != nil {
		return nil, err
	}

	if len(metadata.AuthorizationServers) == 0 {
		return nil, fmt.Errorf("no authorization servers advertised by %s", resource)
	}

	return &metadata, nil
}
