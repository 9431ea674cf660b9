package passphrase

import (
	"os"
	"strings"
	"testing"

	"golang.org/x/term"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("HUBCTL_TEST_TOKEN", "  secret-token ")
	src := NewSource("HUBCTL_TEST_TOKEN", "admin token")
	value, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "secret-token" {
		t.Fatalf("unexpected value %q", value)
	}
	t.Setenv("HUBCTL_TEST_TOKEN", "changed")
	if again, _ := src.Get(); again != "secret-token" {
		t.Fatalf("expected cached value, got %q", again)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("HUBCTL_TEST_TOKEN", "   ")
	if _, err := NewSource("HUBCTL_TEST_TOKEN", "admin token").Get(); err == nil {
		t.Fatalf("expected error for blank token")
	}
}

func TestSourceNamesSecretWithoutTerminal(t *testing.T) {
	t.Setenv("HUBCTL_TEST_SIGNING", "")
	os.Unsetenv("HUBCTL_TEST_SIGNING")
	if term.IsTerminal(int(os.Stdin.Fd())) {
		t.Skip("stdin is a terminal")
	}
	_, err := NewSource("HUBCTL_TEST_SIGNING", "jwt signing secret").Get()
	if err == nil {
		t.Fatalf("expected error without env or terminal")
	}
	if !strings.Contains(err.Error(), "jwt signing secret") || !strings.Contains(err.Error(), "HUBCTL_TEST_SIGNING") {
		t.Fatalf("error should name the secret and variable: %v", err)
	}
}
