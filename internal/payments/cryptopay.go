package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// tokenHeader — заголовок авторизации Crypto Pay API.
const tokenHeader = "Crypto-Pay-API-Token"

// CryptoPay — HTTP-клиент Crypto Pay API (@CryptoBot).
type CryptoPay struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewCryptoPay создаёт клиент. timeout ограничивает каждый HTTP-запрос.
func NewCryptoPay(baseURL, token string, timeout time.Duration) *CryptoPay {
	return &CryptoPay{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *APIError       `json:"error"`
}

// call выполняет GET-запрос метода API и раскладывает result в out.
func (c *CryptoPay) call(ctx context.Context, method string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("cryptopay %s: %w", method, err)
	}
	req.Header.Set(tokenHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cryptopay %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("cryptopay %s: чтение ответа: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("cryptopay %s: http %d: некорректный ответ: %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		if env.Error == nil {
			return fmt.Errorf("cryptopay %s: http %d без описания ошибки", method, resp.StatusCode)
		}
		return fmt.Errorf("cryptopay %s: %w", method, env.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("cryptopay %s: разбор result: %w", method, err)
	}
	return nil
}

// invoice — счёт в формате API.
type invoice struct {
	InvoiceID     int64           `json:"invoice_id"`
	Status        string          `json:"status"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	PayURL        string          `json:"pay_url"`
	BotInvoiceURL string          `json:"bot_invoice_url"`
	PaidAt        *time.Time      `json:"paid_at"`
}

func (i *invoice) state() *InvoiceState {
	return &InvoiceState{
		ID:     strconv.FormatInt(i.InvoiceID, 10),
		Status: InvoiceStatus(i.Status),
		Amount: i.Amount,
		Asset:  i.Asset,
		PaidAt: i.PaidAt,
	}
}

// CreateInvoice выставляет счёт.
func (c *CryptoPay) CreateInvoice(ctx context.Context, asset string, amount decimal.Decimal, description string) (*InvoiceLink, error) {
	params := url.Values{}
	params.Set("asset", asset)
	params.Set("amount", amount.String())
	params.Set("description", description)

	var inv invoice
	if err := c.call(ctx, "createInvoice", params, &inv); err != nil {
		return nil, err
	}
	link := &InvoiceLink{ID: strconv.FormatInt(inv.InvoiceID, 10), PayURL: inv.BotInvoiceURL}
	if link.PayURL == "" {
		link.PayURL = inv.PayURL
	}
	return link, nil
}

// GetInvoice читает состояние счёта. API возвращает список, берём первый элемент.
func (c *CryptoPay) GetInvoice(ctx context.Context, invoiceID string) (*InvoiceState, error) {
	params := url.Values{}
	params.Set("invoice_ids", invoiceID)

	var res struct {
		Items []invoice `json:"items"`
	}
	if err := c.call(ctx, "getInvoices", params, &res); err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, ErrInvoiceNotFound
	}
	return res.Items[0].state(), nil
}

// Transfer переводит деньги пользователю @CryptoBot.
func (c *CryptoPay) Transfer(ctx context.Context, userID int64, asset string, amount decimal.Decimal, spendID, comment string) error {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("asset", asset)
	params.Set("amount", amount.String())
	params.Set("spend_id", spendID)
	if comment != "" {
		params.Set("comment", comment)
	}
	return c.call(ctx, "transfer", params, nil)
}

// Withdraw выводит деньги на внешний адрес.
func (c *CryptoPay) Withdraw(ctx context.Context, asset string, amount decimal.Decimal, address, spendID string) error {
	params := url.Values{}
	params.Set("asset", asset)
	params.Set("amount", amount.String())
	params.Set("address", address)
	params.Set("spend_id", spendID)
	return c.call(ctx, "withdraw", params, nil)
}

// FindTransfer ищет исполненный перевод по spend_id.
func (c *CryptoPay) FindTransfer(ctx context.Context, spendID string) (bool, error) {
	params := url.Values{}
	params.Set("spend_id", spendID)

	var res struct {
		Items []struct {
			SpendID string `json:"spend_id"`
			Status  string `json:"status"`
		} `json:"items"`
	}
	if err := c.call(ctx, "getTransfers", params, &res); err != nil {
		return false, err
	}
	for _, it := range res.Items {
		if it.SpendID == spendID && it.Status == "completed" {
			return true, nil
		}
	}
	return false, nil
}
