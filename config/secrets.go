package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// ErrSecretNotFound is returned when a provider has no value for a key.
var ErrSecretNotFound = errors.New("secret not found")

// SecretManager retrieves a single named secret.
type SecretManager interface {
	GetSecret(key string) (string, error)
}

// Secret keys understood by LoadSecrets and the config fields they fill.
const (
	SecretJWT                = "jwt_secret"
	SecretAdminPassword      = "admin_password"
	SecretAbuseIPDBKey       = "abuseipdb_api_key"
	SecretVirusTotalKey      = "virustotal_api_key"
	SecretOTXKey             = "otx_api_key"
	SecretReasoningKey       = "reasoning_api_key"
	SecretOktaToken          = "okta_api_token"
	SecretAzureClientSecret  = "azure_client_secret"
	SecretSMTPPassword       = "smtp_password"
	SecretClickHousePassword = "clickhouse_password"
)

// EnvSecretManager reads GUARDIAN_<KEY> environment variables.
type EnvSecretManager struct{}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := "GUARDIAN_SECRET_" + strings.ToUpper(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("%w: environment variable %s not set", ErrSecretNotFound, envKey)
	}
	return value, nil
}

// VaultSecretManager reads one KV secret from HashiCorp Vault and serves
// keys from it.
type VaultSecretManager struct {
	path   string
	client *api.Client

	once sync.Once
	data map[string]interface{}
	err  error
}

func NewVaultSecretManager(cfg *Config) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: cfg.Secrets.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Secrets.Vault.Token != "" {
		client.SetToken(cfg.Secrets.Vault.Token)
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}

	path := cfg.Secrets.Vault.Path
	if path == "" {
		path = "secret/guardian"
	}
	return &VaultSecretManager{path: path, client: client}, nil
}

func (v *VaultSecretManager) load() {
	secret, err := v.client.Logical().Read(v.path)
	if err != nil {
		v.err = fmt.Errorf("failed to read from Vault: %w", err)
		return
	}
	if secret == nil || secret.Data == nil {
		v.err = fmt.Errorf("%w: nothing stored at Vault path %s", ErrSecretNotFound, v.path)
		return
	}
	v.data = secret.Data
	// KV v2 nests the payload under "data"
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		v.data = nested
	}
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	v.once.Do(v.load)
	if v.err != nil {
		return "", v.err
	}
	value, ok := v.data[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not in Vault secret", ErrSecretNotFound, key)
	}
	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return str, nil
}

// AWSSecretManager reads a JSON object from AWS Secrets Manager.
type AWSSecretManager struct {
	secretID string
	client   *secretsmanager.SecretsManager

	once sync.Once
	data map[string]string
	err  error
}

func NewAWSSecretManager(cfg *Config) (*AWSSecretManager, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Secrets.AWS.Region)}
	if cfg.Secrets.AWS.AccessKey != "" && cfg.Secrets.AWS.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.Secrets.AWS.AccessKey, cfg.Secrets.AWS.SecretKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	secretID := cfg.Secrets.AWS.SecretID
	if secretID == "" {
		secretID = "guardian/secrets"
	}
	return &AWSSecretManager{secretID: secretID, client: secretsmanager.New(sess)}, nil
}

func (a *AWSSecretManager) load() {
	result, err := a.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		a.err = fmt.Errorf("failed to get secret from AWS: %w", err)
		return
	}
	if result.SecretString == nil {
		a.err = fmt.Errorf("%w: AWS secret %s has no string value", ErrSecretNotFound, a.secretID)
		return
	}
	if err := json.Unmarshal([]byte(*result.SecretString), &a.data); err != nil {
		a.err = fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	a.once.Do(a.load)
	if a.err != nil {
		return "", a.err
	}
	value, ok := a.data[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not in AWS secret", ErrSecretNotFound, key)
	}
	return value, nil
}

// NewSecretManager creates the secret manager named by secrets.provider.
func NewSecretManager(cfg *Config) (SecretManager, error) {
	switch cfg.Secrets.Provider {
	case "", "env":
		return &EnvSecretManager{}, nil
	case "vault":
		return NewVaultSecretManager(cfg)
	case "aws":
		return NewAWSSecretManager(cfg)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Secrets.Provider)
	}
}

// LoadSecrets fills empty credential fields from the configured provider.
// Values already present in the config file or environment win.
func LoadSecrets(cfg *Config) error {
	manager, err := NewSecretManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	return applySecrets(cfg, manager)
}

func applySecrets(cfg *Config, manager SecretManager) error {
	targets := []struct {
		key   string
		field *string
	}{
		{SecretJWT, &cfg.Auth.JWTSecret},
		{SecretAdminPassword, &cfg.Auth.Password},
		{SecretAbuseIPDBKey, &cfg.Intel.AbuseIPDB.APIKey},
		{SecretVirusTotalKey, &cfg.Intel.VirusTotal.APIKey},
		{SecretOTXKey, &cfg.Intel.OTX.APIKey},
		{SecretReasoningKey, &cfg.Reasoning.APIKey},
		{SecretOktaToken, &cfg.Enforcement.Okta.APIToken},
		{SecretAzureClientSecret, &cfg.Enforcement.AzureAD.ClientSecret},
		{SecretSMTPPassword, &cfg.Notifications.Email.Password},
		{SecretClickHousePassword, &cfg.ClickHouse.Password},
	}

	for _, t := range targets {
		if *t.field != "" {
			continue
		}
		// an already-hashed admin password needs no plain one
		if t.key == SecretAdminPassword && cfg.Auth.HashedPassword != "" {
			continue
		}
		value, err := manager.GetSecret(t.key)
		if err != nil {
			if errors.Is(err, ErrSecretNotFound) {
				continue
			}
			return fmt.Errorf("failed to load secret %s: %w", t.key, err)
		}
		*t.field = value
	}
	return nil
}
