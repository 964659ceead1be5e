// Package credential supplies authentication for fetch and push. Strategies
// are tried in a fixed order; each yields at most one credential and the
// sequence is consumed lazily until the remote accepts one.
package credential

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/schaermu/gitautosync/internal/config"
)

// Allowed is a bitmask of the authentication methods a remote accepts.
type Allowed uint8

const (
	AllowSSHKey Allowed = 1 << iota
	AllowUserPass
	AllowDefault
)

func (a Allowed) String() string {
	var parts []string
	if a&AllowSSHKey != 0 {
		parts = append(parts, "ssh-key")
	}
	if a&AllowUserPass != 0 {
		parts = append(parts, "user-pass")
	}
	if a&AllowDefault != 0 {
		parts = append(parts, "default")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

var (
	// ErrExhausted is returned when no candidate credential was accepted
	ErrExhausted = errors.New("credentials exhausted")
	// ErrNotApplicable is returned by a strategy that has nothing to offer
	// for a target, e.g. a key file that does not exist.
	ErrNotApplicable = errors.New("strategy not applicable")
)

// Target describes the remote being authenticated against.
type Target struct {
	URL      string
	Protocol string
	Host     string
	Path     string
	Username string
	Allowed  Allowed
}

// ParseTarget derives the protocol, username and allowed methods from a
// remote URL. scp-like addresses (git@host:path) are SSH.
func ParseTarget(url string) (Target, error) {
	ep, err := transport.NewEndpoint(url)
	if err != nil {
		return Target{}, fmt.Errorf("invalid remote URL %q: %w", url, err)
	}

	t := Target{
		URL:      url,
		Protocol: ep.Protocol,
		Host:     ep.Host,
		Path:     strings.TrimPrefix(ep.Path, "/"),
		Username: ep.User,
	}
	switch ep.Protocol {
	case "ssh":
		t.Allowed = AllowSSHKey
		if t.Username == "" {
			t.Username = "git"
		}
	case "http", "https":
		t.Allowed = AllowUserPass | AllowDefault
	default:
		t.Allowed = AllowDefault
	}
	return t, nil
}

// Candidate is one credential offered to the remote. A nil Auth means
// anonymous access.
type Candidate struct {
	Strategy string
	Auth     transport.AuthMethod
}

// Strategy produces at most one credential for a target.
type Strategy interface {
	Name() string
	// Accepts reports whether the strategy can serve any of the allowed methods
	Accepts(allowed Allowed) bool
	// Credential returns the auth method to offer target. A nil method with a
	// nil error means connecting without credentials, and is yielded as the
	// anonymous candidate.
	Credential(ctx context.Context, target Target) (transport.AuthMethod, error)
}

// Provider yields candidates from its strategies in order.
type Provider struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewProvider creates a provider over an explicit list of strategies
func NewProvider(logger *slog.Logger, strategies ...Strategy) *Provider {
	return &Provider{strategies: strategies, logger: logger}
}

// FromConfig creates the default provider: ssh-agent, the configured key
// file, the default key files, the configured token file, the git
// credential helper and finally anonymous access.
func FromConfig(cfg config.AuthConfig, logger *slog.Logger) *Provider {
	strategies := []Strategy{AgentStrategy{}}
	if cfg.SSHKeyFile != "" {
		strategies = append(strategies, KeyFileStrategy{Path: cfg.SSHKeyFile, PassphraseFile: cfg.SSHKeyPassphraseFile})
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			strategies = append(strategies, KeyFileStrategy{Path: filepath.Join(home, ".ssh", name)})
		}
	}
	if cfg.HTTPSTokenFile != "" {
		strategies = append(strategies, TokenFileStrategy{Path: cfg.HTTPSTokenFile, Username: cfg.HTTPSUsername})
	}
	strategies = append(strategies, HelperStrategy{}, AnonymousStrategy{})
	return NewProvider(logger, strategies...)
}

// Candidates returns the credentials for url lazily, in strategy order.
// Strategies that fail to build a credential are logged and skipped.
func (p *Provider) Candidates(ctx context.Context, url string) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		target, err := ParseTarget(url)
		if err != nil {
			p.logger.Warn("cannot derive credentials for remote", "url", url, "error", err)
			return
		}

		for _, s := range p.strategies {
			if !s.Accepts(target.Allowed) {
				continue
			}
			auth, err := s.Credential(ctx, target)
			if errors.Is(err, ErrNotApplicable) {
				continue
			}
			if err != nil {
				p.logger.Warn("credential strategy failed", "strategy", s.Name(), "error", err)
				continue
			}
			p.logger.Debug("offering credential", "strategy", s.Name(), "allowed", target.Allowed.String())
			if !yield(Candidate{Strategy: s.Name(), Auth: auth}) {
				return
			}
		}
	}
}

// Try runs op once per candidate until it succeeds. It only moves on to the
// next candidate when op fails with an authentication error; any other
// error is returned as is. When every candidate was rejected the result
// wraps ErrExhausted and the last rejection.
func Try(ctx context.Context, candidates iter.Seq[Candidate], op func(auth transport.AuthMethod) error) error {
	var lastErr error
	for c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(c.Auth)
		if err == nil {
			return nil
		}
		if !IsAuthError(err) {
			return err
		}
		lastErr = fmt.Errorf("%s: %w", c.Strategy, err)
	}
	if lastErr == nil {
		return fmt.Errorf("%w: no credential available", ErrExhausted)
	}
	return fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

// IsAuthError reports whether err means the remote rejected the credential.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"unable to authenticate", "no supported methods remain", "ssh: handshake failed"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
