package external

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"golang.org/x/term"
)

// Environment variable names holding CIP-API credentials
const (
	EnvTenantID       = "tenant_id"
	EnvClientID       = "client_id"
	EnvClientSecret   = "client_secret"
	EnvCIPAPIUsername = "cip_api_username"
	EnvCIPAPIPassword = "cip_api_password"
)

// ErrMissingCredentials is returned when credentials cannot be found and prompting
// is not possible
var ErrMissingCredentials = errors.New("missing CIP-API credentials")

// Credentials for one of the two authentication modes
type Credentials struct {
	Username     string
	Password     string
	TenantID     string
	ClientID     string
	ClientSecret string
}

// Identity is a stable non-secret name for the credential set
func (c Credentials) Identity() string {
	if c.ClientID != "" {
		return c.TenantID + "/" + c.ClientID
	}
	return c.Username
}

// Prompter asks the operator for a credential value
type Prompter interface {
	Prompt(label string, secret bool) (string, error)
}

// TerminalPrompter reads credentials from a terminal. Secrets are read without echo.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stdin and stderr
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// Prompt implements Prompter
func (p *TerminalPrompter) Prompt(label string, secret bool) (string, error) {
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: stdin is not a terminal", ErrMissingCredentials)
	}

	fmt.Fprintf(p.Out, "%s: ", label)
	if secret {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.Out)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", label, err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read %s: %w", label, err)
	}
	return strings.TrimSpace(line), nil
}

// promptOnce guards interactive prompting for the lifetime of the process
var promptOnce sync.Once

// CredentialStore resolves credentials from the process environment, then an env
// file, then an interactive prompt.
type CredentialStore struct {
	useActiveDirectory bool
	envFile            string
	prompter           Prompter

	getenv func(string) string
	setenv func(string, string) error
}

// NewCredentialStore creates a store. A nil prompter disables prompting.
func NewCredentialStore(useActiveDirectory bool, envFile string, prompter Prompter) *CredentialStore {
	return &CredentialStore{
		useActiveDirectory: useActiveDirectory,
		envFile:            envFile,
		prompter:           prompter,
		getenv:             os.Getenv,
		setenv:             os.Setenv,
	}
}

func (s *CredentialStore) requiredKeys() []string {
	if s.useActiveDirectory {
		return []string{EnvTenantID, EnvClientID, EnvClientSecret}
	}
	return []string{EnvCIPAPIUsername, EnvCIPAPIPassword}
}

func (s *CredentialStore) missing() []string {
	var out []string
	for _, k := range s.requiredKeys() {
		if s.getenv(k) == "" {
			out = append(out, k)
		}
	}
	return out
}

// Get returns the credentials for the configured mode. Values found in the env file
// or typed at the prompt are exported into the process environment so later calls
// and child components see them.
func (s *CredentialStore) Get() (*Credentials, error) {
	if len(s.missing()) > 0 && s.envFile != "" {
		if err := s.loadEnvFile(); err != nil {
			return nil, err
		}
	}

	if missing := s.missing(); len(missing) > 0 && s.prompter != nil {
		var promptErr error
		promptOnce.Do(func() {
			promptErr = s.prompt(missing)
		})
		if promptErr != nil {
			return nil, promptErr
		}
	}

	if missing := s.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s not set", ErrMissingCredentials, strings.Join(missing, ", "))
	}

	return &Credentials{
		Username:     s.getenv(EnvCIPAPIUsername),
		Password:     s.getenv(EnvCIPAPIPassword),
		TenantID:     s.getenv(EnvTenantID),
		ClientID:     s.getenv(EnvClientID),
		ClientSecret: s.getenv(EnvClientSecret),
	}, nil
}

func (s *CredentialStore) loadEnvFile() error {
	values, err := godotenv.Read(s.envFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read env file %s: %w", s.envFile, err)
	}

	for _, k := range s.requiredKeys() {
		if s.getenv(k) != "" {
			continue
		}
		if v := values[k]; v != "" {
			if err := s.setenv(k, v); err != nil {
				return fmt.Errorf("failed to export %s: %w", k, err)
			}
		}
	}
	return nil
}

func (s *CredentialStore) prompt(keys []string) error {
	for _, k := range keys {
		secret := k == EnvCIPAPIPassword || k == EnvClientSecret
		v, err := s.prompter.Prompt(k, secret)
		if err != nil {
			return err
		}
		if v == "" {
			continue
		}
		if err := s.setenv(k, v); err != nil {
			return fmt.Errorf("failed to export %s: %w", k, err)
		}
	}
	return nil
}
