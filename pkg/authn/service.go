package authn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skyview-app/skyview/pkg/oauth2"
)

// SessionWriter persists and clears the transport-level session marker
// (in practice: the session cookie) that associates subsequent requests
// from a user agent with a subject DID. The credential material itself
// never goes through this interface.
type SessionWriter interface {
	WriteSubject(did string) error
	ClearSubject() error
}

// Service is the externally visible entry point of the OAuth core. It
// is constructed once at startup and passed into the request handlers;
// it holds no state beyond references to its collaborators.
type Service struct {
	flow     *Flow
	factory  *Factory
	sessions SessionStore
	metrics  *Metrics
	recorder Recorder
}

func NewService(flow *Flow, factory *Factory, sessions SessionStore, metrics *Metrics, recorder Recorder) *Service {
	if recorder == nil {
		recorder = NopRecorder()
	}
	return &Service{
		flow:     flow,
		factory:  factory,
		sessions: sessions,
		metrics:  metrics,
		recorder: recorder,
	}
}

// Login starts an authorization flow for the given account identifier
// (may be empty) and returns the URL to redirect the user to.
func (s *Service) Login(ctx context.Context, identifier string, opts ...oauth2.ParameterOption) (string, error) {
	authURL, err := s.flow.BeginAuthorization(ctx, identifier, opts...)
	if err != nil {
		s.countFailure(err)
		s.recorder.Record(Event{Time: time.Now(), Type: EventLoginFailed, Handle: identifier, Error: err.Error()})
		return "", err
	}

	if s.metrics != nil {
		s.metrics.LoginsStarted.Inc()
	}
	s.recorder.Record(Event{Time: time.Now(), Type: EventLoginStarted, Handle: identifier})

	return authURL, nil
}

// CompleteLogin validates the callback, materializes the session and
// instructs the writer to set the transport-level marker. Profile data
// in the result is best-effort enrichment; its absence is not an error.
func (s *Service) CompleteLogin(ctx context.Context, callbackURL string, writer SessionWriter) (*LoginResult, error) {
	result, err := s.flow.CompleteAuthorization(ctx, callbackURL)
	if err != nil {
		s.countFailure(err)
		s.recorder.Record(Event{Time: time.Now(), Type: EventLoginFailed, Error: err.Error()})
		return nil, err
	}

	if err := writer.WriteSubject(result.DID); err != nil {
		s.countFailure(err)
		return nil, fmt.Errorf("write session marker: %w", err)
	}

	s.enrichProfile(ctx, result)

	if s.metrics != nil {
		s.metrics.LoginsCompleted.Inc()
	}
	s.recorder.Record(Event{Time: time.Now(), Type: EventLoginCompleted, DID: result.DID, Handle: result.Handle})

	return result, nil
}

// enrichProfile decorates a login result with handle, display name and
// avatar. Failures are logged only; the login stands either way.
func (s *Service) enrichProfile(ctx context.Context, result *LoginResult) {
	client, err := s.factory.ForSubject(ctx, result.DID)
	if err != nil {
		slog.Warn("Skipping profile enrichment", "did", result.DID, "error", err)
		return
	}

	profile, err := client.GetProfile(ctx, result.DID)
	if err != nil {
		slog.Warn("Failed to fetch profile", "did", result.DID, "error", err)
		return
	}

	result.Handle = profile.Handle
	result.DisplayName = profile.DisplayName
	result.Avatar = profile.Avatar

	if result.Session.Handle != profile.Handle {
		result.Session.Handle = profile.Handle
		if err := s.sessions.PutSession(ctx, result.Session); err != nil {
			slog.Warn("Failed to store handle on session", "did", result.DID, "error", err)
		}
	}
}

// Logout removes the stored session and clears the transport-level
// marker. It never fails from the caller's point of view; underlying
// errors are logged only. Calling it for a subject without a session is
// a no-op.
func (s *Service) Logout(ctx context.Context, did string, writer SessionWriter) {
	if err := s.sessions.DeleteSession(ctx, did); err != nil {
		slog.Warn("Failed to delete session on logout", "did", did, "error", err)
	}
	if err := writer.ClearSubject(); err != nil {
		slog.Warn("Failed to clear session marker on logout", "did", did, "error", err)
	}
	s.recorder.Record(Event{Time: time.Now(), Type: EventLogout, DID: did})
}

// IsValid reports whether a usable session exists for the subject. Any
// underlying error collapses to false.
func (s *Service) IsValid(ctx context.Context, did string) bool {
	return s.factory.IsValid(ctx, did)
}

// Client returns an authenticated client for the subject, refreshing
// stale credentials first.
func (s *Service) Client(ctx context.Context, did string) (*Client, error) {
	return s.factory.ForSubject(ctx, did)
}

func (s *Service) countFailure(err error) {
	if s.metrics != nil {
		s.metrics.LoginFailures.WithLabelValues(KindOf(err).String()).Inc()
	}
}
