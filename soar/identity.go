package soar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"guardian/core"
	"guardian/metrics"

	"go.uber.org/zap"
)

// ErrAccountNotFound is returned when a directory has no matching user.
var ErrAccountNotFound = errors.New("account not found")

// OktaDirectory suspends users through the Okta Users API.
type OktaDirectory struct {
	baseURL        string
	token          string
	client         *http.Client
	circuitBreaker *core.CircuitBreaker
	logger         *zap.SugaredLogger
}

// NewOktaDirectory creates a directory for an Okta org. domain may be a bare
// host ("acme.okta.com") or a full base URL.
func NewOktaDirectory(domain, apiToken string, logger *zap.SugaredLogger) *OktaDirectory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &OktaDirectory{
		baseURL:        baseURLFor(domain),
		token:          apiToken,
		client:         &http.Client{Timeout: core.IdentityProviderTimeout},
		circuitBreaker: metrics.NewBreaker("okta"),
		logger:         logger,
	}
}

// Name returns the provider name
func (o *OktaDirectory) Name() string {
	return "okta"
}

type oktaUser struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// DisableAccount looks the user up by login or email and suspends it. A user
// that is already suspended counts as success.
func (o *OktaDirectory) DisableAccount(ctx context.Context, account, reason string) error {
	// Missing users do not count against the breaker.
	notFound := false
	err := o.circuitBreaker.Execute(func() error {
		query := url.Values{}
		query.Set("search", fmt.Sprintf(`profile.login eq "%s" or profile.email eq "%s"`, account, account))

		var users []oktaUser
		if err := o.do(ctx, http.MethodGet, "/api/v1/users?"+query.Encode(), &users); err != nil {
			return fmt.Errorf("okta user search: %w", err)
		}
		if len(users) == 0 {
			notFound = true
			return nil
		}
		user := users[0]
		if strings.EqualFold(user.Status, "SUSPENDED") {
			o.logger.Infow("Okta user already suspended", "account", account, "user_id", user.ID)
			return nil
		}

		if err := o.do(ctx, http.MethodPost, "/api/v1/users/"+url.PathEscape(user.ID)+"/lifecycle/suspend", nil); err != nil {
			return fmt.Errorf("okta suspend: %w", err)
		}
		o.logger.Infow("Okta user suspended", "account", account, "user_id", user.ID, "reason", reason)
		return nil
	})
	if err == nil && notFound {
		return fmt.Errorf("okta: %w: %s", ErrAccountNotFound, account)
	}
	return err
}

func (o *OktaDirectory) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "SSWS "+o.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return doJSON(o.client, req, out)
}

const (
	azureLoginURL = "https://login.microsoftonline.com"
	azureGraphURL = "https://graph.microsoft.com/v1.0"
)

// AzureADDirectory disables users through Microsoft Graph using the client
// credentials flow.
type AzureADDirectory struct {
	tenantID       string
	clientID       string
	clientSecret   string
	loginURL       string
	graphURL       string
	client         *http.Client
	circuitBreaker *core.CircuitBreaker
	logger         *zap.SugaredLogger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewAzureADDirectory creates a Graph-backed directory.
func NewAzureADDirectory(tenantID, clientID, clientSecret string, logger *zap.SugaredLogger) *AzureADDirectory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AzureADDirectory{
		tenantID:       tenantID,
		clientID:       clientID,
		clientSecret:   clientSecret,
		loginURL:       azureLoginURL,
		graphURL:       azureGraphURL,
		client:         &http.Client{Timeout: core.IdentityProviderTimeout},
		circuitBreaker: metrics.NewBreaker("azure_ad"),
		logger:         logger,
	}
}

// WithEndpoints overrides the login and Graph base URLs (sovereign clouds, tests).
func (a *AzureADDirectory) WithEndpoints(loginURL, graphURL string) *AzureADDirectory {
	a.loginURL = strings.TrimRight(loginURL, "/")
	a.graphURL = strings.TrimRight(graphURL, "/")
	return a
}

// Name returns the provider name
func (a *AzureADDirectory) Name() string {
	return "azure_ad"
}

// DisableAccount finds the user by UPN or mail and sets accountEnabled=false.
func (a *AzureADDirectory) DisableAccount(ctx context.Context, account, reason string) error {
	notFound := false
	err := a.circuitBreaker.Execute(func() error {
		token, err := a.token(ctx)
		if err != nil {
			return fmt.Errorf("azure ad token: %w", err)
		}

		query := url.Values{}
		escaped := strings.ReplaceAll(account, "'", "''")
		query.Set("$filter", fmt.Sprintf("userPrincipalName eq '%s' or mail eq '%s'", escaped, escaped))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.graphURL+"/users?"+query.Encode(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		var found struct {
			Value []struct {
				ID string `json:"id"`
			} `json:"value"`
		}
		if err := doJSON(a.client, req, &found); err != nil {
			return fmt.Errorf("azure ad user search: %w", err)
		}
		if len(found.Value) == 0 {
			notFound = true
			return nil
		}
		userID := found.Value[0].ID

		req, err = http.NewRequestWithContext(ctx, http.MethodPatch, a.graphURL+"/users/"+url.PathEscape(userID),
			strings.NewReader(`{"accountEnabled":false}`))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		if err := doJSON(a.client, req, nil); err != nil {
			return fmt.Errorf("azure ad disable: %w", err)
		}

		a.logger.Infow("Azure AD user disabled", "account", account, "user_id", userID, "reason", reason)
		return nil
	})
	if err == nil && notFound {
		return fmt.Errorf("azure ad: %w: %s", ErrAccountNotFound, account)
	}
	return err
}

// token returns a cached access token, refreshing it a minute before expiry.
func (a *AzureADDirectory) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accessToken != "" && time.Now().Before(a.expiresAt) {
		return a.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)
	form.Set("scope", "https://graph.microsoft.com/.default")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/oauth2/v2.0/token", a.loginURL, url.PathEscape(a.tenantID)),
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := doJSON(a.client, req, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}
	a.accessToken = tok.AccessToken
	a.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return a.accessToken, nil
}

// NamedDirectory is a Directory that reports which provider it talks to.
type NamedDirectory interface {
	Directory
	Name() string
}

// DirectoryChain tries identity providers in order. A provider that does not
// know the account hands over to the next; any other outcome is final.
type DirectoryChain struct {
	providers []NamedDirectory
	logger    *zap.SugaredLogger
}

// NewDirectoryChain creates a chain over providers.
func NewDirectoryChain(logger *zap.SugaredLogger, providers ...NamedDirectory) *DirectoryChain {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &DirectoryChain{providers: providers, logger: logger}
}

// Len returns the number of configured providers
func (c *DirectoryChain) Len() int {
	return len(c.providers)
}

// DisableAccount disables the account in the first provider that has it.
func (c *DirectoryChain) DisableAccount(ctx context.Context, account, reason string) error {
	for _, p := range c.providers {
		err := p.DisableAccount(ctx, account, reason)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		c.logger.Debugw("Account not in directory, trying next", "provider", p.Name(), "account", account)
	}
	return fmt.Errorf("%w in any directory: %s", ErrAccountNotFound, account)
}

func baseURLFor(domain string) string {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return domain
	}
	return "https://" + domain
}

func doJSON(client *http.Client, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &HTTPStatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
