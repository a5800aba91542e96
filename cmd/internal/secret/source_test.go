package secret

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestSource(env map[string]string, isTerminal bool, typed string, readErr error) (*Source, *bytes.Buffer) {
	var stderr bytes.Buffer
	s := NewSource("FILAMINT_JWT_SECRET", "JWT secret: ")
	s.lookup = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.terminal = func() (bool, func() ([]byte, error)) {
		return isTerminal, func() ([]byte, error) { return []byte(typed), readErr }
	}
	s.stderr = &stderr
	return s, &stderr
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s, stderr := newTestSource(map[string]string{"FILAMINT_JWT_SECRET": " from-env "}, true, "typed", nil)
	got, err := s.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "from-env" {
		t.Fatalf("secret = %q", got)
	}
	if stderr.Len() != 0 {
		t.Fatalf("should not prompt, wrote %q", stderr.String())
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	s, _ := newTestSource(map[string]string{"FILAMINT_JWT_SECRET": "  "}, true, "typed", nil)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty env error, got %v", err)
	}
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	s, stderr := newTestSource(nil, true, "typed-secret\n", nil)
	got, err := s.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "typed-secret" {
		t.Fatalf("secret = %q", got)
	}
	if !strings.HasPrefix(stderr.String(), "JWT secret: ") {
		t.Fatalf("prompt missing: %q", stderr.String())
	}
	// cached
	s.terminal = func() (bool, func() ([]byte, error)) { t.Fatalf("prompted twice"); return false, nil }
	if again, _ := s.Get(); again != "typed-secret" {
		t.Fatalf("cached secret = %q", again)
	}
}

func TestSourceFailsWithoutTerminal(t *testing.T) {
	s, _ := newTestSource(nil, false, "", nil)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "FILAMINT_JWT_SECRET") {
		t.Fatalf("expected hint about env var, got %v", err)
	}
}

func TestSourceReadError(t *testing.T) {
	s, _ := newTestSource(nil, true, "", errors.New("tty gone"))
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "tty gone") {
		t.Fatalf("expected read error, got %v", err)
	}
}
