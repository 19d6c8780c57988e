package settings

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

func memFs() *afero.Afero {
	return &afero.Afero{Fs: afero.NewMemMapFs()}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	fs := memFs()

	got, err := Load(fs, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	fs := memFs()
	content := []byte(`
planner:
  provider: anthropic
  model: claude-sonnet-4-5
  api_key: sk-test
worker:
  provider: zhipu
  model: glm-4.1v-thinking-flash
  api_key: zp-test
device:
  serial: emulator-5554
`)
	path := filepath.Join(ConfigDir(), "config.yaml")
	if err := fs.MkdirAll(ConfigDir(), 0700); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}

	got, err := Load(fs, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.Planner.Provider != ProviderAnthropic {
		t.Errorf("planner provider = %q, want anthropic", got.Planner.Provider)
	}
	if got.Planner.APIKey != "sk-test" {
		t.Errorf("planner api key = %q, want sk-test", got.Planner.APIKey)
	}
	if got.Device.Serial != "emulator-5554" {
		t.Errorf("device serial = %q, want emulator-5554", got.Device.Serial)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	fs := memFs()
	t.Setenv("AUTOAGENT_PLANNER_MODEL", "glm-4.6")
	t.Setenv("AUTOAGENT_ADB_SERIAL", "phone-1")

	got, err := Load(fs, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.Planner.Model != "glm-4.6" {
		t.Errorf("planner model = %q, want glm-4.6", got.Planner.Model)
	}
	if got.Device.Serial != "phone-1" {
		t.Errorf("device serial = %q, want phone-1", got.Device.Serial)
	}
}

func TestLoadResolvesSecretRef(t *testing.T) {
	fs := memFs()
	secrets, err := NewFileProvider("/secrets", fs)
	if err != nil {
		t.Fatal(err)
	}
	if err := secrets.Set("planner-key", "resolved-key\n"); err != nil {
		t.Fatal(err)
	}

	content := []byte(`
planner:
  provider: zhipu
  model: glm-4.5
  api_key_ref: planner-key
`)
	if err := fs.MkdirAll(ConfigDir(), 0700); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile(filepath.Join(ConfigDir(), "config.yaml"), content, 0600); err != nil {
		t.Fatal(err)
	}

	got, err := Load(fs, secrets)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.Planner.APIKey != "resolved-key" {
		t.Errorf("planner api key = %q, want resolved-key", got.Planner.APIKey)
	}
}

func TestValidateReportsMissingKeys(t *testing.T) {
	s := Default()

	err := s.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing API keys")
	}

	s.Planner.APIKey = "a"
	s.Worker.APIKey = "b"
	if err := s.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestFileProviderRoundTrip(t *testing.T) {
	fs := memFs()
	fp, err := NewFileProvider("/secrets", fs)
	if err != nil {
		t.Fatal(err)
	}

	if err := fp.Set("worker-key", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := fp.Get("worker-key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "value" {
		t.Errorf("got %q, want value", got)
	}

	if err := fp.Delete("worker-key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, err = fp.Get("worker-key")
	var notFound *ErrSecretNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("got %v, want ErrSecretNotFound", err)
	}
}
