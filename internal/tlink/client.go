package tlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tlsync/internal/logs"
)

// FlagOK — бизнес-флаг успешного ответа TLINK.
const FlagOK = "00"

// ClientConfig — настройки sensor-data API.
type ClientConfig struct {
	BaseURL        string
	SensorDataPath string
	HTTPMethod     string // GET | POST
	AppID          string
	Timeout        time.Duration
}

// Client — клиент постраничного чтения показаний из облака.
type Client struct {
	cfg        ClientConfig
	oauth      *OAuthClient
	httpClient *http.Client
}

func NewClient(cfg ClientConfig, oauth *OAuthClient, hc *http.Client) *Client {
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if cfg.HTTPMethod == "" {
		cfg.HTTPMethod = http.MethodGet
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, oauth: oauth, httpClient: hc}
}

// FetchSensorPage читает одну страницу показаний аккаунта.
// На 401 токен инвалидируется и запрос повторяется ровно один раз со
// свежим токеном; второй 401 подряд, как и любая другая ошибка,
// терминален. Бизнес-отказ (flag != "00") — тоже терминальная ошибка,
// отличная от транспортной.
func (c *Client) FetchSensorPage(ctx context.Context, userID int64, page, pageSize int, overrides map[string]any) (*RemotePayload, error) {
	if c.cfg.BaseURL == "" || c.cfg.SensorDataPath == "" {
		return nil, &ConfigError{Msg: "tlink base URL or sensor data path is not configured"}
	}

	params := map[string]any{
		"userId":   userID,
		"currPage": page,
		"pageSize": pageSize,
	}
	for k, v := range overrides {
		if v != nil {
			params[k] = v
		}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	endpoint := c.cfg.BaseURL + "/" + strings.TrimLeft(c.cfg.SensorDataPath, "/")
	method := strings.ToUpper(c.cfg.HTTPMethod)

	for attempt := 0; attempt < 2; attempt++ {
		auth, err := c.oauth.AuthorizationHeader(ctx)
		if err != nil {
			return nil, err
		}

		// TLINK принимает параметры JSON-телом и на GET тоже
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", auth)
		if c.cfg.AppID != "" {
			req.Header.Set("tlinkAppId", c.cfg.AppID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &RemoteError{Msg: fmt.Sprintf("sensor data request: %v", err)}
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			logs.Logger.Warn("tlink access token rejected; refreshing and retrying")
			c.oauth.InvalidateToken()
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &RemoteError{Status: resp.StatusCode, Msg: "sensor data request failed"}
		}

		var payload RemotePayload
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return nil, &RemoteError{Msg: fmt.Sprintf("sensor data response is not JSON: %v", err)}
		}
		if payload.Flag != FlagOK {
			return nil, &RemoteError{Msg: fmt.Sprintf("tlink responded with flag %q", payload.Flag)}
		}
		return &payload, nil
	}

	return nil, &RemoteError{Status: http.StatusUnauthorized, Msg: "sensor data request failed after token refresh"}
}
