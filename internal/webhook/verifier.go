package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Типы событий шлюза, которые знает reconciliation engine.
// Остальные типы проходят верификацию и игнорируются дальше по конвейеру —
// новый тип события на стороне шлюза не должен ломать обработку.
const (
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
)

// DefaultTolerance — допустимое отклонение декларируемого времени события
// от часов сервера (защита от replay)
const DefaultTolerance = 5 * time.Minute

// ErrSignatureInvalid возвращается при неверной или отсутствующей подписи.
// Запрос отбрасывается до какой-либо работы с заказами.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// ErrStaleEvent возвращается, когда время события вне допустимого окна
var ErrStaleEvent = errors.New("webhook event is stale")

// Event представляет верифицированное событие платёжного шлюза
type Event struct {
	ID   string
	Type string
	// PaymentRef — идентификатор payment intent, по которому событие
	// сопоставляется с заказом
	PaymentRef string
	CreatedAt  time.Time
}

// eventPayload — wire формат тела webhook-а
type eventPayload struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		PaymentIntent string `json:"payment_intent"`
	} `json:"data"`
}

// Verifier проверяет подлинность и свежесть входящих webhook-ов
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier создаёт Verifier с общим секретом шлюза
// tolerance <= 0 заменяется на DefaultTolerance
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify проверяет подпись и свежесть события и парсит тело в Event.
// Формат заголовка подписи: "t=<unix>,v1=<hex(hmac-sha256(secret, "<t>.<payload>"))>".
// Возвращает ErrSignatureInvalid при несовпадении подписи,
// ErrStaleEvent при времени вне допустимого окна.
func (v *Verifier) Verify(rawPayload []byte, signatureHeader string) (Event, error) {
	ts, sig, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return Event{}, err
	}

	// Подпись считается от "<t>.<payload>", чтобы timestamp нельзя было подменить
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(rawPayload)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(expected, got) {
		return Event{}, ErrSignatureInvalid
	}

	// Replay mitigation: событие должно быть внутри окна допустимого отклонения
	eventTime := time.Unix(ts, 0)
	diff := v.now().Sub(eventTime)
	if diff > v.tolerance || diff < -v.tolerance {
		return Event{}, fmt.Errorf("%w: signed %s ago", ErrStaleEvent, diff)
	}

	var payload eventPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return Event{}, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	if payload.ID == "" {
		return Event{}, fmt.Errorf("webhook payload has no event id")
	}

	created := eventTime
	if payload.Created > 0 {
		created = time.Unix(payload.Created, 0)
	}

	return Event{
		ID:         payload.ID,
		Type:       payload.Type,
		PaymentRef: payload.Data.PaymentIntent,
		CreatedAt:  created,
	}, nil
}

// parseSignatureHeader разбирает заголовок вида "t=1699999999,v1=abcdef..."
func parseSignatureHeader(header string) (ts int64, sig string, err error) {
	if header == "" {
		return 0, "", ErrSignatureInvalid
	}

	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", ErrSignatureInvalid
			}
		case "v1":
			sig = v
		}
	}

	if ts == 0 || sig == "" {
		return 0, "", ErrSignatureInvalid
	}
	return ts, sig, nil
}
