package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a shared secret from an environment variable, falling back
// to an interactive prompt. The first successful answer is cached.
type Source struct {
	envVar string
	prompt string

	// lookup and terminal are replaced in tests.
	lookup   func(string) (string, bool)
	terminal func() (bool, func() ([]byte, error))
	stderr   io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource reads envVar before prompting on stderr with prompt.
func NewSource(envVar, prompt string) *Source {
	return &Source{
		envVar:   strings.TrimSpace(envVar),
		prompt:   prompt,
		lookup:   os.LookupEnv,
		terminal: stdinTerminal,
		stderr:   os.Stderr,
	}
}

func stdinTerminal() (bool, func() ([]byte, error)) {
	fd := int(os.Stdin.Fd())
	return term.IsTerminal(fd), func() ([]byte, error) { return term.ReadPassword(fd) }
}

// Get returns the secret. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = strings.TrimSpace(value)
				return
			}
		}

		isTerminal, read := s.terminal()
		if !isTerminal {
			if s.envVar != "" {
				s.err = fmt.Errorf("secret required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("secret required and no terminal available")
			}
			return
		}

		fmt.Fprint(s.stderr, s.prompt)
		raw, err := read()
		fmt.Fprintln(s.stderr)
		if err != nil {
			s.err = fmt.Errorf("read secret: %w", err)
			return
		}
		value := strings.TrimSpace(string(raw))
		if value == "" {
			s.err = errors.New("secret cannot be empty")
			return
		}
		s.value = value
	})
	return s.value, s.err
}
