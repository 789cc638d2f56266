package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := `# comment
NUDGE_TEST_A=hello
NUDGE_TEST_B = spaced
=badline
NUDGE_TEST_EXISTING=overwritten
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("NUDGE_TEST_EXISTING", "original")
	t.Setenv("NUDGE_TEST_A", "")
	os.Unsetenv("NUDGE_TEST_A")
	os.Unsetenv("NUDGE_TEST_B")
	defer os.Unsetenv("NUDGE_TEST_A")
	defer os.Unsetenv("NUDGE_TEST_B")

	loadDotEnv(path)

	if got := os.Getenv("NUDGE_TEST_A"); got != "hello" {
		t.Fatalf("NUDGE_TEST_A = %q, want %q", got, "hello")
	}
	if got := os.Getenv("NUDGE_TEST_B"); got != "spaced" {
		t.Fatalf("NUDGE_TEST_B = %q, want %q", got, "spaced")
	}
	// An already-set variable is never overridden.
	if got := os.Getenv("NUDGE_TEST_EXISTING"); got != "original" {
		t.Fatalf("NUDGE_TEST_EXISTING = %q, want %q", got, "original")
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	// Must be a silent no-op.
	loadDotEnv(filepath.Join(t.TempDir(), "does-not-exist"))
}
