// Package provider implements the fiat payment rails behind a uniform
// adapter interface. Each concrete provider wraps one processor's HTTP API
// and its webhook authentication scheme.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ayodele-m/fiatramp/internal/domain"
)

// GenerateAccountRequest asks a rail for a one-time receiving account the
// user pays fiat into.
type GenerateAccountRequest struct {
	Reference     string
	Amount        decimal.Decimal // major fiat units
	Currency      string
	CustomerEmail string
	CustomerName  string
}

// ReceivingAccount is the virtual account returned to the user.
type ReceivingAccount struct {
	AccountNumber string
	AccountName   string
	BankName      string
	Raw           json.RawMessage
}

// PayoutRequest initiates a fiat transfer to a user's bank account.
type PayoutRequest struct {
	Reference      string
	Amount         decimal.Decimal // major fiat units
	Currency       string
	AccountNumber  string
	AccountName    string
	BankCode       string
	RecipientEmail string
	Narration      string
}

// PayoutResult echoes the rail's acceptance of a payout.
type PayoutResult struct {
	Reference   string
	ProviderRef string
	Status      string
	Raw         json.RawMessage
}

// Verification is the authoritative provider-side view of a payment, used
// to re-check every webhook claim.
type Verification struct {
	Success          bool
	TransactionFound bool
	Amount           decimal.Decimal // major fiat units
	Currency         string
	Raw              json.RawMessage
}

// WebhookEvent is a provider webhook reduced to the fields the settlement
// pipeline acts on.
type WebhookEvent struct {
	Provider  string
	Event     string
	Reference string
	Status    string
	Amount    decimal.Decimal // major fiat units
	Currency  string
	Raw       []byte
}

// Provider is the capability shared by every fiat rail: webhook
// authentication and authoritative payment verification.
type Provider interface {
	Name() string
	VerifyWebhook(signature string, body []byte) error
	ParseWebhook(body []byte) (*WebhookEvent, error)
	VerifyPayment(ctx context.Context, reference string) (*Verification, error)
}

// BankTransferProvider additionally issues receiving accounts and pays out
// to bank accounts.
type BankTransferProvider interface {
	Provider
	GenerateReceivingAccount(ctx context.Context, req GenerateAccountRequest) (*ReceivingAccount, error)
	InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
}

// CardProvider additionally initializes hosted card charges.
type CardProvider interface {
	Provider
	InitializeCharge(ctx context.Context, req GenerateAccountRequest) (*ChargeSession, error)
}

// ChargeSession is a hosted checkout handle for card payments.
type ChargeSession struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
	Raw              json.RawMessage
}

// Registry routes payment types to providers and webhooks to their owner.
type Registry struct {
	byName       map[string]Provider
	bankTransfer BankTransferProvider
	card         CardProvider
	payout       BankTransferProvider
}

func NewRegistry(bankTransfer BankTransferProvider, card CardProvider, payout BankTransferProvider) *Registry {
	r := &Registry{
		byName:       make(map[string]Provider),
		bankTransfer: bankTransfer,
		card:         card,
		payout:       payout,
	}
	for _, p := range []Provider{bankTransfer, card, payout} {
		if p != nil {
			r.byName[p.Name()] = p
		}
	}
	return r
}

// ForPaymentType returns the rail handling the inbound leg of a buy.
func (r *Registry) ForPaymentType(paymentType string) (Provider, error) {
	switch paymentType {
	case domain.PaymentTypeBankTransfer:
		if r.bankTransfer == nil {
			return nil, fmt.Errorf("no bank transfer rail configured: %w", domain.ErrProvider)
		}
		return r.bankTransfer, nil
	case domain.PaymentTypeDebitCard:
		if r.card == nil {
			return nil, fmt.Errorf("no card rail configured: %w", domain.ErrProvider)
		}
		return r.card, nil
	default:
		return nil, fmt.Errorf("unknown payment type %q: %w", paymentType, domain.ErrValidation)
	}
}

// BankTransfer returns the account-generation rail.
func (r *Registry) BankTransfer() (BankTransferProvider, error) {
	if r.bankTransfer == nil {
		return nil, fmt.Errorf("no bank transfer rail configured: %w", domain.ErrProvider)
	}
	return r.bankTransfer, nil
}

// Card returns the hosted-charge rail.
func (r *Registry) Card() (CardProvider, error) {
	if r.card == nil {
		return nil, fmt.Errorf("no card rail configured: %w", domain.ErrProvider)
	}
	return r.card, nil
}

// Payout returns the rail used for outbound settlements.
func (r *Registry) Payout() (BankTransferProvider, error) {
	if r.payout == nil {
		return nil, fmt.Errorf("no payout rail configured: %w", domain.ErrProvider)
	}
	return r.payout, nil
}

// ByName resolves the provider that owns an inbound webhook.
func (r *Registry) ByName(name string) (Provider, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q: %w", name, domain.ErrNotFound)
	}
	return p, nil
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// doJSON issues a request and decodes the JSON response body into out,
// returning the raw body alongside for audit storage.
func doJSON(client *http.Client, req *http.Request, out any) (json.RawMessage, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %v", req.Method, req.URL.Path, domain.ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %v", domain.ErrProvider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, fmt.Errorf("%s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, domain.ErrProvider)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return body, fmt.Errorf("decode response: %w: %v", domain.ErrProvider, err)
		}
	}
	return body, nil
}
