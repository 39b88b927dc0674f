package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
)

const (
	providerName   = "mercadopago"
	defaultBaseURL = "https://api.mercadopago.com"
	defaultTimeout = 15 * time.Second

	// expiration_date_to is rejected unless it carries milliseconds and an offset.
	preferenceTimeLayout = "2006-01-02T15:04:05.000-07:00"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, paymentdomain.ErrInvalidConfig
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Adapter{
		baseURL:       baseURL,
		accessToken:   token,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		client:        client,
	}, nil
}

type Adapter struct {
	baseURL       string
	accessToken   string
	webhookSecret string
	client        *http.Client
}

func (a *Adapter) Provider() string {
	return providerName
}

type preferenceItem struct {
	ID         string  `json:"id,omitempty"`
	Title      string  `json:"title"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferenceBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type preferencePayer struct {
	Email string `json:"email,omitempty"`
}

type preferenceBody struct {
	Items             []preferenceItem    `json:"items"`
	ExternalReference string              `json:"external_reference"`
	NotificationURL   string              `json:"notification_url,omitempty"`
	BackURLs          *preferenceBackURLs `json:"back_urls,omitempty"`
	AutoReturn        string              `json:"auto_return,omitempty"`
	Payer             *preferencePayer    `json:"payer,omitempty"`
	Expires           bool                `json:"expires"`
	ExpirationDateTo  string              `json:"expiration_date_to,omitempty"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

func (a *Adapter) CreatePreference(ctx context.Context, req paymentdomain.PreferenceRequest) (*paymentdomain.Preference, error) {
	const op = "create_preference"

	if strings.TrimSpace(req.ExternalReference) == "" || len(req.Items) == 0 {
		return nil, &paymentdomain.GatewayError{Op: op, Kind: paymentdomain.GatewayClient, Message: "external reference and items are required"}
	}

	body := preferenceBody{
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
	}
	for _, item := range req.Items {
		body.Items = append(body.Items, preferenceItem{
			ID:         item.ID,
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  toDecimal(item.UnitPrice),
			CurrencyID: strings.ToUpper(item.Currency),
		})
	}
	if req.SuccessURL != "" || req.FailureURL != "" || req.PendingURL != "" {
		body.BackURLs = &preferenceBackURLs{Success: req.SuccessURL, Failure: req.FailureURL, Pending: req.PendingURL}
		if req.SuccessURL != "" {
			body.AutoReturn = "approved"
		}
	}
	if req.PayerEmail != "" {
		body.Payer = &preferencePayer{Email: req.PayerEmail}
	}
	if !req.ExpiresAt.IsZero() {
		body.Expires = true
		body.ExpirationDateTo = req.ExpiresAt.Format(preferenceTimeLayout)
	}

	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = ulid.Make().String()
	}

	var resp preferenceResponse
	if err := a.do(ctx, op, http.MethodPost, "/checkout/preferences", body, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return nil, &paymentdomain.GatewayError{Op: op, Kind: paymentdomain.GatewayDecode, Message: "preference id missing"}
	}

	return &paymentdomain.Preference{
		ID:                 resp.ID,
		CheckoutURL:        resp.InitPoint,
		SandboxCheckoutURL: resp.SandboxInitPoint,
	}, nil
}

type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	TransactionAmount float64     `json:"transaction_amount"`
	CurrencyID        string      `json:"currency_id"`
	PaymentMethodID   string      `json:"payment_method_id"`
	PaymentTypeID     string      `json:"payment_type_id"`
	DateApproved      *time.Time  `json:"date_approved"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
}

func (a *Adapter) GetPayment(ctx context.Context, paymentID string) (*paymentdomain.Payment, error) {
	const op = "get_payment"

	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrMissingPaymentID
	}

	var raw json.RawMessage
	if err := a.do(ctx, op, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, "", &raw); err != nil {
		return nil, err
	}

	var resp paymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &paymentdomain.GatewayError{Op: op, Kind: paymentdomain.GatewayDecode, Err: err}
	}

	id := resp.ID.String()
	if id == "" {
		id = paymentID
	}
	return &paymentdomain.Payment{
		ID:                id,
		Status:            paymentdomain.NormalizeStatus(resp.Status),
		StatusDetail:      resp.StatusDetail,
		ExternalReference: strings.TrimSpace(resp.ExternalReference),
		Amount:            toMinor(resp.TransactionAmount),
		Currency:          strings.ToUpper(resp.CurrencyID),
		PaymentMethod:     resp.PaymentMethodID,
		PaymentType:       resp.PaymentTypeID,
		PayerEmail:        resp.Payer.Email,
		DateApproved:      resp.DateApproved,
		Raw:               raw,
	}, nil
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (a *Adapter) do(ctx context.Context, op, method, path string, in any, idempotencyKey string, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &paymentdomain.GatewayError{Op: op, Kind: paymentdomain.GatewayClient, Err: err}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return &paymentdomain.GatewayError{Op: op, Kind: paymentdomain.GatewayClient, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return &paymentdomain.GatewayError{Op: op, Kind: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &paymentdomain.GatewayError{Op: op, Kind: classifyTransportError(err), StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 300 {
		kind := paymentdomain.GatewayClient
		if resp.StatusCode >= 500 {
			kind = paymentdomain.GatewayServer
		}
		var apiErr apiError
		_ = json.Unmarshal(data, &apiErr)
		message := apiErr.Message
		if message == "" {
			message = apiErr.Error
		}
		return &paymentdomain.GatewayError{Op: op, Kind: kind, StatusCode: resp.StatusCode, Message: message}
	}

	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &paymentdomain.GatewayError{Op: op, Kind: paymentdomain.GatewayDecode, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func classifyTransportError(err error) paymentdomain.GatewayErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return paymentdomain.GatewayTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return paymentdomain.GatewayTimeout
	}
	return paymentdomain.GatewayTransport
}

func toDecimal(minor int64) float64 {
	return float64(minor) / 100
}

func toMinor(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
