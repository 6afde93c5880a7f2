package passphrase

import (
	"strings"
	"testing"
)

type fakePrompter struct {
	tty   bool
	value string
	calls int
}

func (f *fakePrompter) IsTerminal() bool { return f.tty }

func (f *fakePrompter) ReadSecret(string) (string, error) {
	f.calls++
	return f.value, nil
}

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("STAKE_TEST_SECRET", "from-env")
	prompt := &fakePrompter{tty: true, value: "typed"}
	src := NewSource("custody passphrase", "STAKE_TEST_SECRET").WithPrompter(prompt)

	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "from-env" {
		t.Fatalf("expected env value, got %q", got)
	}
	if prompt.calls != 0 {
		t.Fatalf("prompt should not run when env is set")
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("STAKE_TEST_SECRET", "  ")
	_, err := NewSource("custody passphrase", "STAKE_TEST_SECRET").WithPrompter(&fakePrompter{}).Get()
	if err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty env error, got %v", err)
	}
}

func TestSourcePromptsOnceAndCaches(t *testing.T) {
	prompt := &fakePrompter{tty: true, value: "typed"}
	src := NewSource("custody passphrase", "").WithPrompter(prompt)
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != "typed" {
			t.Fatalf("unexpected value %q", got)
		}
	}
	if prompt.calls != 1 {
		t.Fatalf("expected one prompt, got %d", prompt.calls)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	_, err := NewSource("rpc secret", "STAKE_TEST_UNSET_SECRET").WithPrompter(&fakePrompter{}).Get()
	if err == nil || !strings.Contains(err.Error(), "STAKE_TEST_UNSET_SECRET") {
		t.Fatalf("expected hint naming the env var, got %v", err)
	}
}

func TestSourceRejectsBlankInput(t *testing.T) {
	_, err := NewSource("rpc secret", "").WithPrompter(&fakePrompter{tty: true, value: " "}).Get()
	if err == nil {
		t.Fatalf("expected blank input to be rejected")
	}
}
