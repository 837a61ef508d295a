package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mailer реализует notifier.Dispatcher поверх HTTP API почтового провайдера
type Mailer struct {
	logger     *zap.Logger
	apiURL     string
	apiKey     string
	alertEmail string
	client     *http.Client
}

// NewMailer создаёт новый mailer
// alertEmail — адрес операторов для oversell алертов
func NewMailer(logger *zap.Logger, apiURL, apiKey, alertEmail string) *Mailer {
	return &Mailer{
		logger:     logger,
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     apiKey,
		alertEmail: alertEmail,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendConfirmation отправляет покупателю подтверждение оплаты заказа
func (m *Mailer) SendConfirmation(ctx context.Context, orderID string) error {
	return m.send(ctx, map[string]interface{}{
		"template": "order_confirmation",
		"order_id": orderID,
	})
}

// SendFailureNotice отправляет покупателю уведомление о неуспешной оплате
func (m *Mailer) SendFailureNotice(ctx context.Context, orderID string) error {
	return m.send(ctx, map[string]interface{}{
		"template": "payment_failed",
		"order_id": orderID,
	})
}

// SendOversellAlert отправляет операторам алерт об overselle
func (m *Mailer) SendOversellAlert(ctx context.Context, orderID, productID string, qty int32) error {
	return m.send(ctx, map[string]interface{}{
		"template":   "oversell_alert",
		"to":         m.alertEmail,
		"order_id":   orderID,
		"product_id": productID,
		"quantity":   qty,
	})
}

// send отправляет запрос в почтовый API
func (m *Mailer) send(ctx context.Context, payload map[string]interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.apiURL+"/v1/send", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mail API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	m.logger.Debug("notification sent",
		zap.Any("template", payload["template"]),
		zap.Any("order_id", payload["order_id"]),
	)
	return nil
}

// NoOpDispatcher — no-op реализация Dispatcher (для тестов или когда почта отключена)
type NoOpDispatcher struct {
	logger *zap.Logger
}

// NewNoOpDispatcher создаёт no-op dispatcher
func NewNoOpDispatcher(logger *zap.Logger) *NoOpDispatcher {
	return &NoOpDispatcher{logger: logger}
}

// SendConfirmation ничего не делает, только логирует
func (d *NoOpDispatcher) SendConfirmation(ctx context.Context, orderID string) error {
	d.logger.Debug("no-op dispatcher: confirmation not sent", zap.String("order_id", orderID))
	return nil
}

// SendFailureNotice ничего не делает, только логирует
func (d *NoOpDispatcher) SendFailureNotice(ctx context.Context, orderID string) error {
	d.logger.Debug("no-op dispatcher: failure notice not sent", zap.String("order_id", orderID))
	return nil
}

// SendOversellAlert ничего не делает, только логирует
func (d *NoOpDispatcher) SendOversellAlert(ctx context.Context, orderID, productID string, qty int32) error {
	d.logger.Debug("no-op dispatcher: oversell alert not sent",
		zap.String("order_id", orderID),
		zap.String("product_id", productID),
		zap.Int32("quantity", qty),
	)
	return nil
}
