package tlink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"tlsync/internal/metrics"
)

// OAuthConfig — настройки password-grant против TLINK.
type OAuthConfig struct {
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	Scope         string
	RefreshBuffer time.Duration // за сколько до истечения обновлять
}

// OAuthClient — кэш bearer-токена с прозрачным обновлением.
// Единственное разделяемое изменяемое состояние конкурентных вызовов
// к облаку; один мьютекс сериализует обновления: конкуренты ждут и
// переиспользуют единожды полученный токен, без дублирующих fetch.
type OAuthClient struct {
	cfg        OAuthConfig
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenType   string
	expiresAt   time.Time
}

func NewOAuthClient(cfg OAuthConfig, hc *http.Client) *OAuthClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = time.Minute
	}
	return &OAuthClient{
		cfg:        cfg,
		httpClient: hc,
		now:        time.Now,
	}
}

// AuthorizationHeader возвращает "<tokenType> <token>", при
// необходимости сперва получив свежий токен.
func (c *OAuthClient) AuthorizationHeader(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken == "" || c.expired() {
		if err := c.refresh(ctx); err != nil {
			return "", err
		}
	}
	tokenType := c.tokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return tokenType + " " + c.accessToken, nil
}

// InvalidateToken сбрасывает кэш; следующий вызов пойдёт за новым токеном.
func (c *OAuthClient) InvalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = ""
	c.expiresAt = time.Time{}
}

func (c *OAuthClient) expired() bool {
	deadline := c.expiresAt.Add(-c.cfg.RefreshBuffer)
	return !c.now().Before(deadline)
}

// refresh выполняет password-grant POST. Вызывается под c.mu.
// Любой сбой оставляет кэш пустым.
func (c *OAuthClient) refresh(ctx context.Context) error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"tlink.oauth.token_url", c.cfg.TokenURL},
		{"tlink.oauth.client_id", c.cfg.ClientID},
		{"tlink.oauth.client_secret", c.cfg.ClientSecret},
		{"tlink.oauth.username", c.cfg.Username},
		{"tlink.oauth.password", c.cfg.Password},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &ConfigError{Msg: "missing TLINK OAuth settings: " + strings.Join(missing, ", ")}
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)
	if c.cfg.Scope != "" {
		form.Set("scope", c.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	metrics.TokenFetches.Inc()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteError{Msg: fmt.Sprintf("token request: %v", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{Status: resp.StatusCode, Msg: "token endpoint rejected request"}
	}

	var payload struct {
		AccessToken  string      `json:"access_token"`
		ExpiresIn    json.Number `json:"expires_in"`
		TokenType    string      `json:"token_type"`
		TokenTypeAlt string      `json:"tokenType"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return &RemoteError{Msg: fmt.Sprintf("token response is not JSON: %v", err)}
	}
	if payload.AccessToken == "" {
		return &RemoteError{Msg: "token response missing access_token"}
	}

	expiresIn, _ := payload.ExpiresIn.Int64()
	if expiresIn < 0 {
		expiresIn = 0
	}
	c.accessToken = payload.AccessToken
	if payload.TokenType != "" {
		c.tokenType = payload.TokenType
	} else if payload.TokenTypeAlt != "" {
		c.tokenType = payload.TokenTypeAlt
	}
	c.expiresAt = c.now().Add(time.Duration(expiresIn) * time.Second)
	return nil
}
