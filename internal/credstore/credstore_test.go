package credstore

import (
	"os"
	"path/filepath"
	"testing"
)

const keyEnv = "ANSWERHIVE_TEST_CREDENTIAL_KEY"

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	t.Setenv(keyEnv, "test passphrase")
	return NewFileStore(filepath.Join(t.TempDir(), "credentials.enc"), keyEnv)
}

func TestSaveAndLoad(t *testing.T) {
	s := newTestStore(t)

	err := s.Save("DeepSeek", Credential{APIKey: "sk-123", Extra: map[string]string{"org": "acme"}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	cred, err := s.Load("DeepSeek")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cred == nil || cred.APIKey != "sk-123" {
		t.Fatalf("roundtrip lost key: %+v", cred)
	}
	if cred.Platform != "DeepSeek" {
		t.Fatalf("platform = %q", cred.Platform)
	}
	if cred.Extra["org"] != "acme" {
		t.Fatalf("extra lost: %+v", cred.Extra)
	}
}

func TestLoadMissingPlatform(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save("Kimi", Credential{APIKey: "k"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	cred, err := s.Load("ChatGPT")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cred != nil {
		t.Fatalf("missing platform should yield nil, got %+v", cred)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	s := newTestStore(t)
	cred, err := s.Load("DeepSeek")
	if err != nil || cred != nil {
		t.Fatalf("no file should mean no credential, got %+v, %v", cred, err)
	}
}

func TestUnsetKeyDisablesStore(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "credentials.enc"), "ANSWERHIVE_TEST_UNSET_KEY")

	cred, err := s.Load("DeepSeek")
	if err != nil || cred != nil {
		t.Fatalf("unset key should disable reads quietly, got %+v, %v", cred, err)
	}
	if err := s.Save("DeepSeek", Credential{APIKey: "x"}); err == nil {
		t.Fatal("save without a key must fail")
	}
}

func TestWrongKeyFailsDecryption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	t.Setenv(keyEnv, "first passphrase")
	if err := NewFileStore(path, keyEnv).Save("Kimi", Credential{APIKey: "k"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	t.Setenv(keyEnv, "second passphrase")
	if _, err := NewFileStore(path, keyEnv).Load("Kimi"); err == nil {
		t.Fatal("wrong passphrase must not decrypt")
	}
}

func TestFilePermissions(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save("Qwen", Credential{APIKey: "q"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("credential file mode = %o, want 600", perm)
	}
}
