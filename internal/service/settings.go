package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/models"
	"github.com/ayodele-m/fiatramp/internal/repository"
)

// SettingsService reads and mutates the system-wide settings singleton.
// Every change is written to the append-only settings change log plus the
// audit trail.
type SettingsService struct {
	store repository.Store
	audit *AuditService
	log   *zap.Logger
}

func NewSettingsService(store repository.Store, audit *AuditService, log *zap.Logger) *SettingsService {
	return &SettingsService{store: store, audit: audit, log: log}
}

func (s *SettingsService) Get(ctx context.Context) (*models.Setting, error) {
	return s.store.GetSetting(ctx)
}

// Update applies the new settings and records a change-log entry per field
// that actually changed.
func (s *SettingsService) Update(ctx context.Context, adminID string, next *models.Setting) (*models.Setting, error) {
	if err := validateSetting(next); err != nil {
		return nil, err
	}
	prev, err := s.store.GetSetting(ctx)
	if err != nil {
		return nil, err
	}
	next.ID = prev.ID
	if err := s.store.UpdateSetting(ctx, next); err != nil {
		return nil, err
	}

	for _, change := range diffSettings(prev, next) {
		entry := change
		entry.AdminID = adminID
		if err := s.store.InsertSettingsUpdateLog(ctx, &entry); err != nil {
			s.log.Error("settings change log write failed",
				zap.String("field", entry.Field),
				zap.Error(err),
			)
		}
	}
	s.audit.AdminAction(ctx, "settings", "singleton", adminID, "settings_update", next)

	return s.store.GetSetting(ctx)
}

func validateSetting(st *models.Setting) error {
	for _, pct := range []struct {
		name  string
		value interface{ IsNegative() bool }
	}{
		{"transaction_fee_percentage", st.TransactionFeePercentage},
		{"buy_rate_percentage", st.BuyRatePercentage},
		{"sell_rate_percentage", st.SellRatePercentage},
	} {
		if pct.value.IsNegative() {
			return fmt.Errorf("%s must not be negative: %w", pct.name, domain.ErrValidation)
		}
	}
	switch st.TransactionProcessing {
	case domain.ProcessingAuto, domain.ProcessingManual:
	default:
		return fmt.Errorf("transaction processing must be AUTO or MANUAL: %w", domain.ErrValidation)
	}
	if st.MaxTransactionAmount.IsPositive() && st.MinTransactionAmount.GreaterThan(st.MaxTransactionAmount) {
		return fmt.Errorf("min transaction amount exceeds max: %w", domain.ErrValidation)
	}
	return nil
}

func diffSettings(prev, next *models.Setting) []models.SettingsUpdateLog {
	var out []models.SettingsUpdateLog
	add := func(field, oldVal, newVal string) {
		if oldVal != newVal {
			out = append(out, models.SettingsUpdateLog{Field: field, OldValue: oldVal, NewValue: newVal})
		}
	}
	add("enforce_kyc", fmt.Sprintf("%t", prev.EnforceKYC), fmt.Sprintf("%t", next.EnforceKYC))
	add("transaction_fee_percentage", prev.TransactionFeePercentage.String(), next.TransactionFeePercentage.String())
	add("buy_rate_percentage", prev.BuyRatePercentage.String(), next.BuyRatePercentage.String())
	add("sell_rate_percentage", prev.SellRatePercentage.String(), next.SellRatePercentage.String())
	add("transaction_processing", prev.TransactionProcessing, next.TransactionProcessing)
	add("default_account_bank", prev.DefaultAccountBank, next.DefaultAccountBank)
	add("default_account_name", prev.DefaultAccountName, next.DefaultAccountName)
	add("default_account_no", prev.DefaultAccountNo, next.DefaultAccountNo)
	add("min_transaction_amount", prev.MinTransactionAmount.String(), next.MinTransactionAmount.String())
	add("max_transaction_amount", prev.MaxTransactionAmount.String(), next.MaxTransactionAmount.String())
	return out
}
