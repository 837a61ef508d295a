package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable возвращается, когда шлюз недоступен или ответил ошибкой.
// Checkout в этом случае не создаёт заказ — частичного состояния быть не должно.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Intent представляет payment intent на стороне шлюза
type Intent struct {
	// ID — идентификатор intent-а (pi_...), по нему webhook события
	// сопоставляются с заказом
	ID string `json:"id"`
	// ClientSecret — токен, с которым фронтенд завершает оплату
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=Client --dir=. --output=./mocks --outpkg=mocks

// Client определяет интерфейс платёжного шлюза
// Service слой зависит от этого интерфейса, а не от конкретного HTTP клиента
type Client interface {
	// CreateIntent резервирует payment intent на указанную сумму
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (Intent, error)

	// GetIntent возвращает текущее состояние intent-а
	GetIntent(ctx context.Context, id string) (Intent, error)
}

// HTTPClient реализует Client поверх REST API шлюза
type HTTPClient struct {
	logger  *zap.Logger
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient создаёт новый HTTP клиент шлюза
func NewHTTPClient(logger *zap.Logger, baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateIntent резервирует payment intent через POST /v1/payment_intents
func (c *HTTPClient) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (Intent, error) {
	payload := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"metadata": metadata,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return Intent{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/payment_intents", bytes.NewBuffer(jsonData))
	if err != nil {
		return Intent{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("gateway request failed",
			zap.Error(err),
			zap.Int64("amount", amount),
			zap.String("currency", currency),
		)
		return Intent{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error("gateway returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", strings.TrimSpace(string(body))),
		)
		return Intent{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return Intent{}, fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}

	c.logger.Info("payment intent created",
		zap.String("intent_id", intent.ID),
		zap.Int64("amount", amount),
		zap.String("currency", currency),
	)

	return intent, nil
}

// GetIntent возвращает текущее состояние intent-а через GET /v1/payment_intents/{id}
func (c *HTTPClient) GetIntent(ctx context.Context, id string) (Intent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/payment_intents/"+id, nil)
	if err != nil {
		return Intent{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Intent{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return Intent{}, fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}
	return intent, nil
}
