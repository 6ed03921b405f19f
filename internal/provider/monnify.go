package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
)

// SignatureHeaderMonnify carries the hex HMAC-SHA512 of the raw webhook
// body keyed with the client secret.
const SignatureHeaderMonnify = "monnify-signature"

// Monnify is the bank transfer rail. Authentication is a short-lived bearer
// token obtained with basic-auth credentials and cached until expiry.
type Monnify struct {
	baseURL       string
	apiKey        string
	clientSecret  string
	contractCode  string
	sourceAccount string
	client        *http.Client
	log           *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewMonnify(baseURL, apiKey, clientSecret, contractCode, sourceAccount string, client *http.Client, log *zap.Logger) *Monnify {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &Monnify{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		clientSecret:  clientSecret,
		contractCode:  contractCode,
		sourceAccount: sourceAccount,
		client:        client,
		log:           log,
	}
}

func (m *Monnify) Name() string { return "monnify" }

func (m *Monnify) VerifyWebhook(signature string, body []byte) error {
	mac := hmac.New(sha512.New, []byte(m.clientSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if signature == "" || !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("monnify webhook signature mismatch: %w", domain.ErrAuthorization)
	}
	return nil
}

func (m *Monnify) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var payload struct {
		EventType string `json:"eventType"`
		EventData struct {
			PaymentReference string          `json:"paymentReference"`
			PaymentStatus    string          `json:"paymentStatus"`
			AmountPaid       decimal.Decimal `json:"amountPaid"`
			Currency         string          `json:"currency"`
		} `json:"eventData"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse monnify webhook: %w", domain.ErrValidation)
	}
	if payload.EventData.PaymentReference == "" {
		return nil, fmt.Errorf("monnify webhook missing payment reference: %w", domain.ErrValidation)
	}
	return &WebhookEvent{
		Provider:  m.Name(),
		Event:     payload.EventType,
		Reference: payload.EventData.PaymentReference,
		Status:    payload.EventData.PaymentStatus,
		Amount:    payload.EventData.AmountPaid,
		Currency:  payload.EventData.Currency,
		Raw:       body,
	}, nil
}

func (m *Monnify) VerifyPayment(ctx context.Context, reference string) (*Verification, error) {
	req, err := m.newRequest(ctx, http.MethodGet,
		"/api/v1/merchant/transactions/query?paymentReference="+url.QueryEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		RequestSuccessful bool `json:"requestSuccessful"`
		ResponseBody      struct {
			PaymentStatus string          `json:"paymentStatus"`
			AmountPaid    decimal.Decimal `json:"amountPaid"`
			Currency      string          `json:"currencyCode"`
		} `json:"responseBody"`
	}
	raw, err := doJSON(m.client, req, &out)
	if err != nil {
		return nil, err
	}
	return &Verification{
		Success:          out.RequestSuccessful && out.ResponseBody.PaymentStatus == "PAID",
		TransactionFound: out.RequestSuccessful,
		Amount:           out.ResponseBody.AmountPaid,
		Currency:         out.ResponseBody.Currency,
		Raw:              raw,
	}, nil
}

func (m *Monnify) GenerateReceivingAccount(ctx context.Context, req GenerateAccountRequest) (*ReceivingAccount, error) {
	body := map[string]any{
		"amount":             req.Amount,
		"customerName":       req.CustomerName,
		"customerEmail":      req.CustomerEmail,
		"paymentReference":   req.Reference,
		"paymentDescription": "crypto purchase",
		"currencyCode":       req.Currency,
		"contractCode":       m.contractCode,
		"paymentMethods":     []string{"ACCOUNT_TRANSFER"},
	}
	httpReq, err := m.newRequest(ctx, http.MethodPost, "/api/v1/merchant/bank-transfer/init-payment", body)
	if err != nil {
		return nil, err
	}
	var out struct {
		RequestSuccessful bool `json:"requestSuccessful"`
		ResponseBody      struct {
			AccountNumber string `json:"accountNumber"`
			AccountName   string `json:"accountName"`
			BankName      string `json:"bankName"`
		} `json:"responseBody"`
	}
	raw, err := doJSON(m.client, httpReq, &out)
	if err != nil {
		return nil, err
	}
	if !out.RequestSuccessful {
		return nil, fmt.Errorf("monnify account generation rejected: %w", domain.ErrProvider)
	}
	return &ReceivingAccount{
		AccountNumber: out.ResponseBody.AccountNumber,
		AccountName:   out.ResponseBody.AccountName,
		BankName:      out.ResponseBody.BankName,
		Raw:           raw,
	}, nil
}

func (m *Monnify) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	body := map[string]any{
		"amount":                   req.Amount,
		"reference":                req.Reference,
		"narration":                req.Narration,
		"destinationBankCode":      req.BankCode,
		"destinationAccountNumber": req.AccountNumber,
		"currency":                 req.Currency,
		"sourceAccountNumber":      m.sourceAccount,
	}
	httpReq, err := m.newRequest(ctx, http.MethodPost, "/api/v2/disbursements/single", body)
	if err != nil {
		return nil, err
	}
	var out struct {
		RequestSuccessful bool `json:"requestSuccessful"`
		ResponseBody      struct {
			Status    string `json:"status"`
			Reference string `json:"reference"`
		} `json:"responseBody"`
	}
	raw, err := doJSON(m.client, httpReq, &out)
	if err != nil {
		return nil, err
	}
	if !out.RequestSuccessful {
		return nil, fmt.Errorf("monnify disbursement rejected: %w", domain.ErrProvider)
	}
	m.log.Info("monnify payout initiated",
		zap.String("reference", req.Reference),
		zap.String("status", out.ResponseBody.Status),
	)
	return &PayoutResult{
		Reference:   out.ResponseBody.Reference,
		ProviderRef: out.ResponseBody.Reference,
		Status:      out.ResponseBody.Status,
		Raw:         raw,
	}, nil
}

// newRequest attaches a valid bearer token, refreshing it when expired.
func (m *Monnify) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (m *Monnify) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && time.Now().Before(m.tokenExpiry) {
		return m.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/v1/auth/login", nil)
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.SetBasicAuth(m.apiKey, m.clientSecret)

	var out struct {
		RequestSuccessful bool `json:"requestSuccessful"`
		ResponseBody      struct {
			AccessToken string `json:"accessToken"`
			ExpiresIn   int64  `json:"expiresIn"`
		} `json:"responseBody"`
	}
	if _, err := doJSON(m.client, req, &out); err != nil {
		return "", err
	}
	if !out.RequestSuccessful || out.ResponseBody.AccessToken == "" {
		return "", fmt.Errorf("monnify login rejected: %w", domain.ErrProvider)
	}
	m.token = out.ResponseBody.AccessToken
	// Renew one minute early.
	m.tokenExpiry = time.Now().Add(time.Duration(out.ResponseBody.ExpiresIn-60) * time.Second)
	return m.token, nil
}
