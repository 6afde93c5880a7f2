// Package passphrase resolves operator secrets such as the custody keystore
// passphrase and the RPC signing secret.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Prompter reads a secret without echoing it.
type Prompter interface {
	IsTerminal() bool
	ReadSecret(prompt string) (string, error)
}

type terminal struct {
	in  *os.File
	out io.Writer
}

func (t terminal) IsTerminal() bool { return term.IsTerminal(int(t.in.Fd())) }

func (t terminal) ReadSecret(prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	raw, err := term.ReadPassword(int(t.in.Fd()))
	fmt.Fprintln(t.out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Source resolves a secret from an environment variable, falling back to an
// interactive prompt. The first result is cached.
type Source struct {
	label  string
	envVar string
	prompt Prompter

	once  sync.Once
	value string
	err   error
}

// NewSource returns a source for the secret described by label that checks
// envVar before prompting on the controlling terminal.
func NewSource(label, envVar string) *Source {
	return &Source{
		label:  strings.TrimSpace(label),
		envVar: strings.TrimSpace(envVar),
		prompt: terminal{in: os.Stdin, out: os.Stderr},
	}
}

// WithPrompter replaces the terminal prompter.
func (s *Source) WithPrompter(p Prompter) *Source {
	s.prompt = p
	return s
}

// Get returns the secret. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if s.prompt == nil || !s.prompt.IsTerminal() {
		if s.envVar != "" {
			return "", fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s required and no terminal available", s.label)
	}
	value, err := s.prompt.ReadSecret(fmt.Sprintf("Enter %s: ", s.label))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.label, err)
	}
	if strings.TrimSpace(value) == "" {
		return "", errors.New(s.label + " cannot be empty")
	}
	return value, nil
}
