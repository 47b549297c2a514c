package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// SignatureHeader — заголовок с подписью вебхука.
const SignatureHeader = "crypto-pay-api-signature"

// UpdateInvoicePaid — единственный тип обновления, который шлёт Crypto Pay.
const UpdateInvoicePaid = "invoice_paid"

// ErrBadSignature — подпись вебхука не совпала.
var ErrBadSignature = errors.New("неверная подпись вебхука")

// WebhookUpdate — тело вебхука.
type WebhookUpdate struct {
	UpdateID   int64   `json:"update_id"`
	UpdateType string  `json:"update_type"`
	Payload    invoice `json:"payload"`
}

// Invoice возвращает состояние счёта из обновления.
func (u *WebhookUpdate) Invoice() *InvoiceState {
	return u.Payload.state()
}

// Sign считает подпись тела: HMAC-SHA256 с ключом SHA256(token).
func Sign(token string, body []byte) string {
	secret := sha256.Sum256([]byte(token))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook проверяет подпись и разбирает тело.
func ParseWebhook(token string, body []byte, signature string) (*WebhookUpdate, error) {
	expected := Sign(token, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrBadSignature
	}
	var upd WebhookUpdate
	if err := json.Unmarshal(body, &upd); err != nil {
		return nil, fmt.Errorf("разбор вебхука: %w", err)
	}
	return &upd, nil
}
