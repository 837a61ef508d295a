package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

// signPayload подписывает payload так, как это делает шлюз
func signPayload(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func testVerifier(now time.Time) *Verifier {
	v := NewVerifier(testSecret, DefaultTolerance)
	v.now = func() time.Time { return now }
	return v
}

func TestVerifier_Verify_Valid(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := testVerifier(now)

	payload := []byte(`{"id":"evt_1","type":"payment_succeeded","created":1700000000,"data":{"payment_intent":"pi_123"}}`)
	header := signPayload(testSecret, now.Unix(), payload)

	event, err := v.Verify(payload, header)
	require.NoError(t, err)
	require.Equal(t, "evt_1", event.ID)
	require.Equal(t, EventPaymentSucceeded, event.Type)
	require.Equal(t, "pi_123", event.PaymentRef)
	require.Equal(t, int64(1700000000), event.CreatedAt.Unix())
}

func TestVerifier_Verify_WrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := testVerifier(now)

	payload := []byte(`{"id":"evt_1","type":"payment_succeeded","data":{"payment_intent":"pi_123"}}`)
	header := signPayload("whsec_other", now.Unix(), payload)

	_, err := v.Verify(payload, header)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifier_Verify_TamperedPayload(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := testVerifier(now)

	payload := []byte(`{"id":"evt_1","type":"payment_succeeded","data":{"payment_intent":"pi_123"}}`)
	header := signPayload(testSecret, now.Unix(), payload)

	tampered := []byte(`{"id":"evt_1","type":"payment_succeeded","data":{"payment_intent":"pi_666"}}`)
	_, err := v.Verify(tampered, header)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifier_Verify_TamperedTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := testVerifier(now)

	payload := []byte(`{"id":"evt_1","type":"payment_succeeded","data":{"payment_intent":"pi_123"}}`)
	header := signPayload(testSecret, now.Unix(), payload)

	// Подменяем t в заголовке, оставляя подпись: должна не сойтись
	forged := fmt.Sprintf("t=%d,%s", now.Add(time.Hour).Unix(), header[len(fmt.Sprintf("t=%d,", now.Unix())):])
	_, err := v.Verify(payload, forged)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifier_Verify_Stale(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := testVerifier(now)

	payload := []byte(`{"id":"evt_1","type":"payment_succeeded","data":{"payment_intent":"pi_123"}}`)

	t.Run("too old", func(t *testing.T) {
		ts := now.Add(-10 * time.Minute).Unix()
		_, err := v.Verify(payload, signPayload(testSecret, ts, payload))
		require.ErrorIs(t, err, ErrStaleEvent)
	})

	t.Run("from the future", func(t *testing.T) {
		ts := now.Add(10 * time.Minute).Unix()
		_, err := v.Verify(payload, signPayload(testSecret, ts, payload))
		require.ErrorIs(t, err, ErrStaleEvent)
	})

	t.Run("within tolerance", func(t *testing.T) {
		ts := now.Add(-4 * time.Minute).Unix()
		_, err := v.Verify(payload, signPayload(testSecret, ts, payload))
		require.NoError(t, err)
	})
}

func TestVerifier_Verify_MalformedHeader(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := testVerifier(now)
	payload := []byte(`{"id":"evt_1","type":"payment_succeeded","data":{"payment_intent":"pi_123"}}`)

	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"no signature", fmt.Sprintf("t=%d", now.Unix())},
		{"no timestamp", "v1=deadbeef"},
		{"garbage timestamp", "t=abc,v1=deadbeef"},
		{"garbage", "not-a-signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(payload, tt.header)
			require.ErrorIs(t, err, ErrSignatureInvalid)
		})
	}
}

func TestVerifier_Verify_MalformedPayload(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := testVerifier(now)

	t.Run("broken json", func(t *testing.T) {
		payload := []byte(`{"id":`)
		_, err := v.Verify(payload, signPayload(testSecret, now.Unix(), payload))
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("missing event id", func(t *testing.T) {
		payload := []byte(`{"type":"payment_succeeded","data":{"payment_intent":"pi_123"}}`)
		_, err := v.Verify(payload, signPayload(testSecret, now.Unix(), payload))
		require.Error(t, err)
	})
}
