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
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
)

// SignatureHeaderPaystack carries the hex HMAC-SHA512 of the raw webhook
// body keyed with the secret key.
const SignatureHeaderPaystack = "x-paystack-signature"

// Paystack is the card rail and the default payout rail. Amounts cross the
// wire in kobo (minor units).
type Paystack struct {
	baseURL   string
	secretKey string
	client    *http.Client
	log       *zap.Logger
}

func NewPaystack(baseURL, secretKey string, client *http.Client, log *zap.Logger) *Paystack {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &Paystack{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		client:    client,
		log:       log,
	}
}

func (p *Paystack) Name() string { return "paystack" }

func (p *Paystack) VerifyWebhook(signature string, body []byte) error {
	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if signature == "" || !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("paystack webhook signature mismatch: %w", domain.ErrAuthorization)
	}
	return nil
}

func (p *Paystack) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string          `json:"reference"`
			Status    string          `json:"status"`
			Amount    decimal.Decimal `json:"amount"` // kobo
			Currency  string          `json:"currency"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse paystack webhook: %w", domain.ErrValidation)
	}
	if payload.Data.Reference == "" {
		return nil, fmt.Errorf("paystack webhook missing reference: %w", domain.ErrValidation)
	}
	return &WebhookEvent{
		Provider:  p.Name(),
		Event:     payload.Event,
		Reference: payload.Data.Reference,
		Status:    payload.Data.Status,
		Amount:    payload.Data.Amount.Div(decimal.NewFromInt(100)),
		Currency:  payload.Data.Currency,
		Raw:       body,
	}, nil
}

func (p *Paystack) VerifyPayment(ctx context.Context, reference string) (*Verification, error) {
	req, err := p.newRequest(ctx, http.MethodGet, "/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Status bool `json:"status"`
		Data   struct {
			Status   string          `json:"status"`
			Amount   decimal.Decimal `json:"amount"` // kobo
			Currency string          `json:"currency"`
		} `json:"data"`
	}
	raw, err := doJSON(p.client, req, &out)
	if err != nil {
		return nil, err
	}
	return &Verification{
		Success:          out.Status && out.Data.Status == "success",
		TransactionFound: out.Status,
		Amount:           out.Data.Amount.Div(decimal.NewFromInt(100)),
		Currency:         out.Data.Currency,
		Raw:              raw,
	}, nil
}

func (p *Paystack) InitializeCharge(ctx context.Context, req GenerateAccountRequest) (*ChargeSession, error) {
	body := map[string]any{
		"email":     req.CustomerEmail,
		"amount":    domain.ToMinorUnits(req.Amount),
		"currency":  req.Currency,
		"reference": req.Reference,
		"channels":  []string{"card"},
	}
	httpReq, err := p.newRequest(ctx, http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, err
	}
	var out struct {
		Status bool `json:"status"`
		Data   struct {
			AuthorizationURL string `json:"authorization_url"`
			AccessCode       string `json:"access_code"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}
	raw, err := doJSON(p.client, httpReq, &out)
	if err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("paystack charge init rejected: %w", domain.ErrProvider)
	}
	return &ChargeSession{
		AuthorizationURL: out.Data.AuthorizationURL,
		AccessCode:       out.Data.AccessCode,
		Reference:        out.Data.Reference,
		Raw:              raw,
	}, nil
}

// InitiatePayout resolves a transfer recipient first, then moves the funds.
func (p *Paystack) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	recipient, err := p.createRecipient(ctx, req)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"source":    "balance",
		"amount":    domain.ToMinorUnits(req.Amount),
		"currency":  req.Currency,
		"recipient": recipient,
		"reference": req.Reference,
		"reason":    req.Narration,
	}
	httpReq, err := p.newRequest(ctx, http.MethodPost, "/transfer", body)
	if err != nil {
		return nil, err
	}
	var out struct {
		Status bool `json:"status"`
		Data   struct {
			TransferCode string `json:"transfer_code"`
			Status       string `json:"status"`
			Reference    string `json:"reference"`
		} `json:"data"`
	}
	raw, err := doJSON(p.client, httpReq, &out)
	if err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("paystack transfer rejected: %w", domain.ErrProvider)
	}
	p.log.Info("paystack payout initiated",
		zap.String("reference", req.Reference),
		zap.String("transfer_code", out.Data.TransferCode),
	)
	return &PayoutResult{
		Reference:   out.Data.Reference,
		ProviderRef: out.Data.TransferCode,
		Status:      out.Data.Status,
		Raw:         raw,
	}, nil
}

func (p *Paystack) createRecipient(ctx context.Context, req PayoutRequest) (string, error) {
	body := map[string]any{
		"type":           "nuban",
		"name":           req.AccountName,
		"account_number": req.AccountNumber,
		"bank_code":      req.BankCode,
		"currency":       req.Currency,
	}
	httpReq, err := p.newRequest(ctx, http.MethodPost, "/transferrecipient", body)
	if err != nil {
		return "", err
	}
	var out struct {
		Status bool `json:"status"`
		Data   struct {
			RecipientCode string `json:"recipient_code"`
		} `json:"data"`
	}
	if _, err := doJSON(p.client, httpReq, &out); err != nil {
		return "", err
	}
	if !out.Status || out.Data.RecipientCode == "" {
		return "", fmt.Errorf("paystack recipient creation rejected: %w", domain.ErrProvider)
	}
	return out.Data.RecipientCode, nil
}

func (p *Paystack) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
