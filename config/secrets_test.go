package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSecrets map[string]string

func (m mapSecrets) GetSecret(key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", ErrSecretNotFound
}

type brokenSecrets struct{}

func (brokenSecrets) GetSecret(string) (string, error) {
	return "", errors.New("vault sealed")
}

func TestEnvSecretManager(t *testing.T) {
	t.Setenv("GUARDIAN_SECRET_VIRUSTOTAL_API_KEY", "vt-key")
	m := &EnvSecretManager{}

	v, err := m.GetSecret(SecretVirusTotalKey)
	require.NoError(t, err)
	assert.Equal(t, "vt-key", v)

	_, err = m.GetSecret("missing_key")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestApplySecrets_FillsOnlyEmptyFields(t *testing.T) {
	cfg := &Config{}
	cfg.Intel.AbuseIPDB.APIKey = "from-config"

	err := applySecrets(cfg, mapSecrets{
		SecretAbuseIPDBKey:  "from-secrets",
		SecretVirusTotalKey: "vt",
		SecretOktaToken:     "okta",
	})
	require.NoError(t, err)
	assert.Equal(t, "from-config", cfg.Intel.AbuseIPDB.APIKey)
	assert.Equal(t, "vt", cfg.Intel.VirusTotal.APIKey)
	assert.Equal(t, "okta", cfg.Enforcement.Okta.APIToken)
	assert.Empty(t, cfg.Reasoning.APIKey)
}

func TestApplySecrets_SkipsPasswordWhenHashed(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.HashedPassword = "$2a$10$abc"
	require.NoError(t, applySecrets(cfg, mapSecrets{SecretAdminPassword: "plain"}))
	assert.Empty(t, cfg.Auth.Password)
}

func TestApplySecrets_PropagatesBackendErrors(t *testing.T) {
	err := applySecrets(&Config{}, brokenSecrets{})
	assert.ErrorContains(t, err, "vault sealed")
}

func TestNewSecretManager_UnknownProvider(t *testing.T) {
	cfg := &Config{}
	cfg.Secrets.Provider = "gcp"
	_, err := NewSecretManager(cfg)
	assert.Error(t, err)
}
