package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptSecretsRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	password := "test-password-12345"
	secrets := map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-test123",
		"OPENAI_API_KEY":    "sk-test-openai",
	}

	err := EncryptSecretsFile(tmpDir, password, secrets)
	if err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}

	secretsPath := filepath.Join(tmpDir, ControlDirName, secretsFileName)
	info, err := os.Stat(secretsPath)
	if err != nil {
		t.Fatalf("Secrets file was not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected file permissions 0600, got %04o", info.Mode().Perm())
	}

	decrypted, err := DecryptSecretsFile(tmpDir, password)
	if err != nil {
		t.Fatalf("Failed to decrypt secrets: %v", err)
	}

	if len(decrypted) != len(secrets) {
		t.Errorf("Expected %d secrets, got %d", len(secrets), len(decrypted))
	}
	for key, expectedValue := range secrets {
		if actualValue, exists := decrypted[key]; !exists {
			t.Errorf("Secret %s not found in decrypted data", key)
		} else if actualValue != expectedValue {
			t.Errorf("Secret %s: expected %q, got %q", key, expectedValue, actualValue)
		}
	}
}

func TestDecryptWithWrongPassword(t *testing.T) {
	tmpDir := t.TempDir()

	secrets := map[string]string{"ANTHROPIC_API_KEY": "sk-ant-test123"}
	if err := EncryptSecretsFile(tmpDir, "correct-password", secrets); err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}

	if _, err := DecryptSecretsFile(tmpDir, "wrong-password"); err == nil {
		t.Fatal("Expected decryption to fail with wrong password")
	}
}

func TestSecretsFileExists(t *testing.T) {
	tmpDir := t.TempDir()

	if SecretsFileExists(tmpDir) {
		t.Error("Expected no secrets file in fresh directory")
	}

	if err := EncryptSecretsFile(tmpDir, "pw", map[string]string{"K": "v"}); err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}

	if !SecretsFileExists(tmpDir) {
		t.Error("Expected secrets file to exist after encryption")
	}
}

func TestGetSecretPrecedence(t *testing.T) {
	defer SetDecryptedSecrets(nil)

	t.Setenv("ITERDESIGN_TEST_SECRET", "from-env")

	// Env fallback when nothing is in memory.
	SetDecryptedSecrets(nil)
	value, err := GetSecret("ITERDESIGN_TEST_SECRET")
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if value != "from-env" {
		t.Errorf("Expected env value, got %q", value)
	}

	// In-memory secrets win over the environment.
	SetDecryptedSecrets(map[string]string{"ITERDESIGN_TEST_SECRET": "from-file"})
	value, err = GetSecret("ITERDESIGN_TEST_SECRET")
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if value != "from-file" {
		t.Errorf("Expected in-memory value, got %q", value)
	}

	// Missing everywhere is an error.
	if _, err := GetSecret("ITERDESIGN_TEST_ABSENT"); err == nil {
		t.Error("Expected error for missing secret")
	}
}

func TestSetSecretThenSave(t *testing.T) {
	defer SetDecryptedSecrets(nil)
	tmpDir := t.TempDir()

	SetDecryptedSecrets(nil)
	SetSecret("ANTHROPIC_API_KEY", "sk-ant-added")

	if err := SaveSecretsToFile(tmpDir, "pw"); err != nil {
		t.Fatalf("SaveSecretsToFile failed: %v", err)
	}

	decrypted, err := DecryptSecretsFile(tmpDir, "pw")
	if err != nil {
		t.Fatalf("Failed to decrypt secrets: %v", err)
	}
	if decrypted["ANTHROPIC_API_KEY"] != "sk-ant-added" {
		t.Errorf("Expected saved secret, got %q", decrypted["ANTHROPIC_API_KEY"])
	}
}

func TestCorruptedSecretsFile(t *testing.T) {
	tmpDir := t.TempDir()

	controlDir := filepath.Join(tmpDir, ControlDirName)
	if err := os.MkdirAll(controlDir, 0755); err != nil {
		t.Fatalf("Failed to create control dir: %v", err)
	}
	path := filepath.Join(controlDir, secretsFileName)
	if err := os.WriteFile(path, []byte("too short"), 0600); err != nil {
		t.Fatalf("Failed to write corrupted file: %v", err)
	}

	if _, err := DecryptSecretsFile(tmpDir, "pw"); err == nil {
		t.Fatal("Expected error for corrupted secrets file")
	}
}

func TestEmptySecrets(t *testing.T) {
	tmpDir := t.TempDir()

	if err := EncryptSecretsFile(tmpDir, "pw", map[string]string{}); err != nil {
		t.Fatalf("Failed to encrypt empty secrets: %v", err)
	}

	decrypted, err := DecryptSecretsFile(tmpDir, "pw")
	if err != nil {
		t.Fatalf("Failed to decrypt empty secrets: %v", err)
	}
	if len(decrypted) != 0 {
		t.Errorf("Expected empty map, got %d entries", len(decrypted))
	}
}
