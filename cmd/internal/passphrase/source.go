// Package passphrase resolves the secrets hubctl needs: the bearer token for
// the hub admin API and the HMAC secret used by "hubctl token" to mint JWTs.
package passphrase

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves the hub admin token or the JWT signing secret from an
// environment variable or a terminal prompt. The value is cached after the
// first successful retrieval.
type Source struct {
	envVar string
	label  string

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that checks envVar before prompting on stderr
// for label, such as "hub admin token" or "jwt signing secret".
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "secret"
	}
	return &Source{envVar: strings.TrimSpace(envVar), label: label}
}

// Get returns the cached secret or resolves it on first use. Whitespace is
// trimmed and empty values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				value = strings.TrimSpace(value)
				if value == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s required and no terminal available", s.label)
			}
			return
		}

		fmt.Fprintf(os.Stderr, "Enter %s: ", s.label)
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("read %s: %w", s.label, err)
			return
		}
		value := strings.TrimSpace(string(bytes))
		if value == "" {
			s.err = fmt.Errorf("%s cannot be empty", s.label)
			return
		}
		s.value = value
	})

	return s.value, s.err
}
