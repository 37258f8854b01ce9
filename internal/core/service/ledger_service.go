package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

type LedgerService struct {
	accounts port.AccountRepository
	logger   *zap.Logger
}

func NewLedgerService(accounts port.AccountRepository, logger *zap.Logger) *LedgerService {
	return &LedgerService{accounts: accounts, logger: logger}
}

// Debit subtracts amount from the user's balance. It fails with
// ErrInsufficientFunds, leaving the balance unchanged, when amount exceeds it.
func (s *LedgerService) Debit(ctx context.Context, userID, amount int64) (int64, error) {
	if amount < 0 {
		return 0, domain.NewError(domain.KindInvalidQuantity, "amount must not be negative")
	}
	balance, err := s.accounts.Debit(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	s.logger.Info("account debited", zap.Int64("user_id", userID), zap.Int64("amount", amount), zap.Int64("balance", balance))
	return balance, nil
}

func (s *LedgerService) Credit(ctx context.Context, userID, amount int64) (int64, error) {
	if amount < 0 {
		return 0, domain.NewError(domain.KindInvalidQuantity, "amount must not be negative")
	}
	balance, err := s.accounts.Credit(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	s.logger.Info("account credited", zap.Int64("user_id", userID), zap.Int64("amount", amount), zap.Int64("balance", balance))
	return balance, nil
}

func (s *LedgerService) Account(ctx context.Context, userID int64) (*domain.Account, error) {
	return s.accounts.GetAccount(ctx, userID)
}

// AddCard registers the user's payment account with an opening balance, or
// tops up the existing one. created reports whether a new account was made.
func (s *LedgerService) AddCard(ctx context.Context, userID, balance int64) (acc *domain.Account, created bool, err error) {
	if balance < 0 {
		return nil, false, domain.NewError(domain.KindInvalidQuantity, "balance must not be negative")
	}

	_, err = s.accounts.GetAccount(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		acc, err = s.accounts.CreateAccount(ctx, userID, balance)
		if err == nil {
			s.logger.Info("card created", zap.Int64("user_id", userID), zap.Int64("balance", balance))
			return acc, true, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return nil, false, err
		}
		// created concurrently, fall through to top-up
	case err != nil:
		return nil, false, err
	}

	if _, err := s.Credit(ctx, userID, balance); err != nil {
		return nil, false, err
	}
	acc, err = s.accounts.GetAccount(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return acc, false, nil
}
