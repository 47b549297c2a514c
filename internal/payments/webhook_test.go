package payments_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/garant-bot/internal/payments"
)

const webhookBody = `{"update_id":7,"update_type":"invoice_paid","request_date":"2024-05-01T10:00:00Z",` +
	`"payload":{"invoice_id":42,"status":"paid","asset":"USDT","amount":"100"}}`

func TestParseWebhook(t *testing.T) {
	body := []byte(webhookBody)
	sig := payments.Sign(apiToken, body)

	upd, err := payments.ParseWebhook(apiToken, body, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(7), upd.UpdateID)
	assert.Equal(t, payments.UpdateInvoicePaid, upd.UpdateType)

	inv := upd.Invoice()
	assert.Equal(t, "42", inv.ID)
	assert.Equal(t, payments.InvoicePaid, inv.Status)
	assert.Equal(t, "100", inv.Amount.String())
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	body := []byte(webhookBody)

	_, err := payments.ParseWebhook(apiToken, body, "deadbeef")
	assert.ErrorIs(t, err, payments.ErrBadSignature)

	_, err = payments.ParseWebhook("another-token", body, payments.Sign(apiToken, body))
	assert.ErrorIs(t, err, payments.ErrBadSignature)

	tampered := []byte(`{"update_id":8,"update_type":"invoice_paid","payload":{"invoice_id":43}}`)
	_, err = payments.ParseWebhook(apiToken, tampered, payments.Sign(apiToken, body))
	assert.ErrorIs(t, err, payments.ErrBadSignature)
}

func TestParseWebhookRejectsBadJSON(t *testing.T) {
	body := []byte(`{"update_id":`)

	_, err := payments.ParseWebhook(apiToken, body, payments.Sign(apiToken, body))
	require.Error(t, err)
	assert.NotErrorIs(t, err, payments.ErrBadSignature)
}

func TestSignIsStable(t *testing.T) {
	body := []byte(webhookBody)
	assert.Equal(t, payments.Sign(apiToken, body), payments.Sign(apiToken, body))
	assert.Len(t, payments.Sign(apiToken, body), 64)
	assert.NotEqual(t, payments.Sign(apiToken, body), payments.Sign("other", body))
}
