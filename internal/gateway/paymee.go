package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Amineeeeee523/khalilos/internal/logger"
	"github.com/Amineeeeee523/khalilos/internal/pkg/apperror"
)

// Checkout — платёжная сессия, созданная на стороне шлюза.
type Checkout struct {
	ID         string
	PaymentURL string
}

// PaymentGateway — узкий интерфейс внешнего платёжного процессора.
// Ядро считает обе операции медленными и ненадёжными: каждая ограничена
// контекстом и может вернуть GatewayError.
type PaymentGateway interface {
	// CreateCheckout создаёт checkout для депозита клиента.
	CreateCheckout(ctx context.Context, amount decimal.Decimal, currency, reference string) (*Checkout, error)
	// Transfer переводит заблокированные средства фрилансеру.
	Transfer(ctx context.Context, checkoutID string) error
}

// PaymeeClient реализует PaymentGateway поверх HTTP API Paymee.
type PaymeeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewPaymeeClient создаёт экземпляр клиента.
func NewPaymeeClient(baseURL, apiKey string, timeout time.Duration) *PaymeeClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PaymeeClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type checkoutRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Note     string `json:"note"`
}

type checkoutResponse struct {
	Data struct {
		Token      string `json:"token"`
		PaymentURL string `json:"payment_url"`
	} `json:"data"`
}

// CreateCheckout создаёт платёжную сессию для депозита.
func (c *PaymeeClient) CreateCheckout(ctx context.Context, amount decimal.Decimal, currency, reference string) (*Checkout, error) {
	body := checkoutRequest{
		Amount:   amount.StringFixed(2),
		Currency: currency,
		Note:     reference,
	}

	var resp checkoutResponse
	if err := c.doJSON(ctx, http.MethodPost, "/payments/create", body, &resp); err != nil {
		return nil, err
	}

	if resp.Data.Token == "" {
		return nil, apperror.New(apperror.ErrCodeGateway, "paymee: пустой token в ответе")
	}

	logger.Log.WithFields(logrus.Fields{
		"checkout_id": resp.Data.Token,
		"reference":   reference,
	}).Info("paymee: checkout создан")

	return &Checkout{ID: resp.Data.Token, PaymentURL: resp.Data.PaymentURL}, nil
}

// Transfer выполняет capture: перевод заблокированных средств получателю.
func (c *PaymeeClient) Transfer(ctx context.Context, checkoutID string) error {
	path := fmt.Sprintf("/payments/%s/capture", checkoutID)
	if err := c.doJSON(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return err
	}

	logger.Log.WithField("checkout_id", checkoutID).Info("paymee: capture выполнен")
	return nil
}

// doJSON выполняет запрос к API шлюза. Любая транспортная или бизнес-ошибка,
// включая таймаут контекста, превращается в GatewayError.
func (c *PaymeeClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeGateway, "paymee: не удалось сериализовать запрос")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeGateway, "paymee: не удалось создать запрос")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeGateway, "paymee: запрос не выполнен")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperror.New(apperror.ErrCodeGateway,
			fmt.Sprintf("paymee: статус %d: %s", resp.StatusCode, string(payload)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeGateway, "paymee: не удалось разобрать ответ")
		}
	}
	return nil
}
