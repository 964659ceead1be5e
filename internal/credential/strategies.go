package credential

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// AgentStrategy authenticates through the running ssh-agent.
type AgentStrategy struct{}

func (AgentStrategy) Name() string { return "ssh-agent" }

func (AgentStrategy) Accepts(allowed Allowed) bool { return allowed&AllowSSHKey != 0 }

func (AgentStrategy) Credential(_ context.Context, t Target) (transport.AuthMethod, error) {
	if os.Getenv("SSH_AUTH_SOCK") == "" {
		return nil, ErrNotApplicable
	}
	auth, err := ssh.NewSSHAgentAuth(t.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ssh-agent: %w", err)
	}
	return auth, nil
}

// KeyFileStrategy authenticates with a private key file. A missing file is
// not an error.
type KeyFileStrategy struct {
	Path           string
	PassphraseFile string
}

func (s KeyFileStrategy) Name() string { return "ssh-key:" + s.Path }

func (KeyFileStrategy) Accepts(allowed Allowed) bool { return allowed&AllowSSHKey != 0 }

func (s KeyFileStrategy) Credential(_ context.Context, t Target) (transport.AuthMethod, error) {
	if _, err := os.Stat(s.Path); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotApplicable
	}

	var passphrase string
	if s.PassphraseFile != "" {
		data, err := os.ReadFile(s.PassphraseFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key passphrase file: %w", err)
		}
		passphrase = strings.TrimSpace(string(data))
	}

	auth, err := ssh.NewPublicKeysFromFile(t.Username, s.Path, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key %s: %w", s.Path, err)
	}
	return auth, nil
}

// TokenFileStrategy sends a token read from a file as the HTTPS password.
type TokenFileStrategy struct {
	Path     string
	Username string
}

func (TokenFileStrategy) Name() string { return "https-token" }

func (TokenFileStrategy) Accepts(allowed Allowed) bool { return allowed&AllowUserPass != 0 }

func (s TokenFileStrategy) Credential(_ context.Context, t Target) (transport.AuthMethod, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read HTTPS token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return nil, fmt.Errorf("HTTPS token file %s is empty", s.Path)
	}

	username := s.Username
	if t.Username != "" {
		username = t.Username
	}
	return &http.BasicAuth{Username: username, Password: token}, nil
}

// HelperStrategy asks the configured git credential helpers through
// "git credential fill". Prompting is disabled.
type HelperStrategy struct{}

func (HelperStrategy) Name() string { return "credential-helper" }

func (HelperStrategy) Accepts(allowed Allowed) bool { return allowed&AllowUserPass != 0 }

func (HelperStrategy) Credential(ctx context.Context, t Target) (transport.AuthMethod, error) {
	var in bytes.Buffer
	fmt.Fprintf(&in, "protocol=%s\nhost=%s\n", t.Protocol, t.Host)
	if t.Path != "" {
		fmt.Fprintf(&in, "path=%s\n", t.Path)
	}
	if t.Username != "" {
		fmt.Fprintf(&in, "username=%s\n", t.Username)
	}
	in.WriteString("\n")

	cmd := exec.CommandContext(ctx, "git", "credential", "fill")
	cmd.Stdin = &in
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=", "SSH_ASKPASS=")
	out, err := cmd.Output()
	if err != nil {
		// Without a helper, fill fails because it cannot prompt.
		return nil, ErrNotApplicable
	}

	username, password := parseCredentialOutput(out)
	if password == "" {
		return nil, ErrNotApplicable
	}
	return &http.BasicAuth{Username: username, Password: password}, nil
}

func parseCredentialOutput(out []byte) (username, password string) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "username":
			username = value
		case "password":
			password = value
		}
	}
	return username, password
}

// AnonymousStrategy offers no credential at all, for local and public remotes.
type AnonymousStrategy struct{}

func (AnonymousStrategy) Name() string { return "anonymous" }

func (AnonymousStrategy) Accepts(allowed Allowed) bool { return allowed&AllowDefault != 0 }

// Credential always returns a nil method, which transports treat as no auth.
func (AnonymousStrategy) Credential(context.Context, Target) (transport.AuthMethod, error) {
	return nil, nil
}
