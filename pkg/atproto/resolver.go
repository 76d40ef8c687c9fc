// Resolution of AT Protocol identities to their authorization servers.
package atproto

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/skyview-app/skyview/pkg/oauth2"
)

// Endpoints describes where a login for a given account has to be sent.
// DID and PDS are empty when resolution ran without an account hint and
// fell back to the configured default authorization server.
type Endpoints struct {
	DID                   syntax.DID
	PDS                   string
	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
}

// IssuerResolver resolves an account identifier (handle or DID, may be
// empty) to the endpoints of its authorization server.
type IssuerResolver interface {
	Resolve(ctx context.Context, identifier string) (*Endpoints, error)
}

// DirectoryResolver resolves identities through the public atproto
// directory infrastructure: identifier to DID document to PDS, then the
// PDS protected-resource metadata to the authorization server, then the
// server's RFC 8414 metadata to its endpoints.
type DirectoryResolver struct {
	dir            identity.Directory
	httpClient     *http.Client
	fallbackIssuer string
}

// NewDirectoryResolver builds a resolver with the default identity
// directory. fallbackIssuer is used when no account hint is given,
// typically https://bsky.social.
func NewDirectoryResolver(fallbackIssuer string, timeout time.Duration) *DirectoryResolver {
	return &DirectoryResolver{
		dir:            identity.DefaultDirectory(),
		httpClient:     &http.Client{Timeout: timeout},
		fallbackIssuer: fallbackIssuer,
	}
}

func (r *DirectoryResolver) Resolve(ctx context.Context, identifier string) (*Endpoints, error) {
	if identifier == "" {
		if r.fallbackIssuer == "" {
			return nil, fmt.Errorf("no account identifier and no fallback authorization server configured")
		}
		return r.fromIssuer(ctx, r.fallbackIssuer, "", "")
	}

	atid, err := syntax.ParseAtIdentifier(identifier)
	if err != nil {
		return nil, fmt.Errorf("invalid account identifier %q: %w", identifier, err)
	}

	ident, err := r.dir.Lookup(ctx, atid)
	if err != nil {
		return nil, fmt.Errorf("resolve identity %q: %w", identifier, err)
	}

	pds := ident.PDSEndpoint()
	if pds == "" {
		return nil, fmt.Errorf("identity %q has no PDS endpoint", identifier)
	}

	resourceMetadata, err := oauth2.FetchProtectedResourceMetadata(ctx, r.httpClient, pds)
	if err != nil {
		return nil, fmt.Errorf("resolve authorization server for %q: %w", identifier, err)
	}

	return r.fromIssuer(ctx, resourceMetadata.AuthorizationServers[0], ident.DID.String(), pds)
}

func (r *DirectoryResolver) fromIssuer(ctx context.Context, issuer, did, pds string) (*Endpoints, error) {
	metadata, err := oauth2.FetchServerMetadata(ctx, r.httpClient, issuer)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata of %s: %w", issuer, err)
	}

	endpoints := &Endpoints{
		PDS:                   pds,
		Issuer:                metadata.Issuer,
		AuthorizationEndpoint: metadata.AuthorizationEndpoint,
		TokenEndpoint:         metadata.TokenEndpoint,
	}
	if did != "" {
		endpoints.DID = syntax.DID(did)
	}
	return endpoints, nil
}

// LocalhostResolver is the development shortcut: all accounts live on a
// single local PDS that doubles as its own authorization server, with
// endpoints at the conventional paths. No network traffic is needed.
type LocalhostResolver struct {
	PDSURL string
}

func (r *LocalhostResolver) Resolve(ctx context.Context, identifier string) (*Endpoints, error) {
	base := strings.TrimRight(r.PDSURL, "/")
	return &Endpoints{
		PDS:                   base,
		Issuer:                base,
		AuthorizationEndpoint: base + "/oauth/authorize",
		TokenEndpoint:         base + "/oauth/token",
	}, nil
}
