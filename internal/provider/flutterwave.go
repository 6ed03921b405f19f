package provider

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
)

// SignatureHeaderFlutterwave carries the static verif-hash secret; the rail
// authenticates by plain comparison, not an HMAC over the body.
const SignatureHeaderFlutterwave = "verif-hash"

// Flutterwave is an alternative bank transfer rail. Amounts cross the wire
// in major units.
type Flutterwave struct {
	baseURL   string
	secretKey string
	verifHash string
	client    *http.Client
	log       *zap.Logger
}

func NewFlutterwave(baseURL, secretKey, verifHash string, client *http.Client, log *zap.Logger) *Flutterwave {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &Flutterwave{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		verifHash: verifHash,
		client:    client,
		log:       log,
	}
}

func (f *Flutterwave) Name() string { return "flutterwave" }

func (f *Flutterwave) VerifyWebhook(signature string, body []byte) error {
	if signature == "" || subtle.ConstantTimeCompare([]byte(signature), []byte(f.verifHash)) != 1 {
		return fmt.Errorf("flutterwave verif-hash mismatch: %w", domain.ErrAuthorization)
	}
	return nil
}

func (f *Flutterwave) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var payload struct {
		Event string `json:"event"`
		Data  struct {
			TxRef    string          `json:"tx_ref"`
			Status   string          `json:"status"`
			Amount   decimal.Decimal `json:"amount"`
			Currency string          `json:"currency"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse flutterwave webhook: %w", domain.ErrValidation)
	}
	if payload.Data.TxRef == "" {
		return nil, fmt.Errorf("flutterwave webhook missing tx_ref: %w", domain.ErrValidation)
	}
	return &WebhookEvent{
		Provider:  f.Name(),
		Event:     payload.Event,
		Reference: payload.Data.TxRef,
		Status:    payload.Data.Status,
		Amount:    payload.Data.Amount,
		Currency:  payload.Data.Currency,
		Raw:       body,
	}, nil
}

func (f *Flutterwave) VerifyPayment(ctx context.Context, reference string) (*Verification, error) {
	req, err := f.newRequest(ctx, http.MethodGet,
		"/v3/transactions/verify_by_reference?tx_ref="+reference, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Status string `json:"status"`
		Data   struct {
			Status   string          `json:"status"`
			Amount   decimal.Decimal `json:"amount"`
			Currency string          `json:"currency"`
		} `json:"data"`
	}
	raw, err := doJSON(f.client, req, &out)
	if err != nil {
		return nil, err
	}
	found := out.Status == "success"
	return &Verification{
		Success:          found && out.Data.Status == "successful",
		TransactionFound: found,
		Amount:           out.Data.Amount,
		Currency:         out.Data.Currency,
		Raw:              raw,
	}, nil
}

func (f *Flutterwave) GenerateReceivingAccount(ctx context.Context, req GenerateAccountRequest) (*ReceivingAccount, error) {
	body := map[string]any{
		"tx_ref":       req.Reference,
		"amount":       req.Amount,
		"currency":     req.Currency,
		"email":        req.CustomerEmail,
		"fullname":     req.CustomerName,
		"is_permanent": false,
	}
	httpReq, err := f.newRequest(ctx, http.MethodPost, "/v3/virtual-account-numbers", body)
	if err != nil {
		return nil, err
	}
	var out struct {
		Status string `json:"status"`
		Data   struct {
			AccountNumber string `json:"account_number"`
			BankName      string `json:"bank_name"`
		} `json:"data"`
	}
	raw, err := doJSON(f.client, httpReq, &out)
	if err != nil {
		return nil, err
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("flutterwave virtual account rejected: %w", domain.ErrProvider)
	}
	return &ReceivingAccount{
		AccountNumber: out.Data.AccountNumber,
		AccountName:   req.CustomerName,
		BankName:      out.Data.BankName,
		Raw:           raw,
	}, nil
}

func (f *Flutterwave) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	body := map[string]any{
		"account_bank":   req.BankCode,
		"account_number": req.AccountNumber,
		"amount":         req.Amount,
		"currency":       req.Currency,
		"reference":      req.Reference,
		"narration":      req.Narration,
	}
	httpReq, err := f.newRequest(ctx, http.MethodPost, "/v3/transfers", body)
	if err != nil {
		return nil, err
	}
	var out struct {
		Status string `json:"status"`
		Data   struct {
			ID        int64  `json:"id"`
			Status    string `json:"status"`
			Reference string `json:"reference"`
		} `json:"data"`
	}
	raw, err := doJSON(f.client, httpReq, &out)
	if err != nil {
		return nil, err
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("flutterwave transfer rejected: %w", domain.ErrProvider)
	}
	f.log.Info("flutterwave payout initiated",
		zap.String("reference", req.Reference),
		zap.Int64("transfer_id", out.Data.ID),
	)
	return &PayoutResult{
		Reference:   out.Data.Reference,
		ProviderRef: fmt.Sprintf("%d", out.Data.ID),
		Status:      out.Data.Status,
		Raw:         raw,
	}, nil
}

func (f *Flutterwave) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.secretKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
