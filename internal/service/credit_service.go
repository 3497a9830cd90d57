package service

import (
	"context"
	"fmt"

	"github.com/1905060202/image-ai-processor/internal/config"
	"github.com/1905060202/image-ai-processor/internal/models"
)

// UserStore is the slice of the user repository the gate needs.
type UserStore interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	List(ctx context.Context, search string, limit, offset int) ([]models.User, int, error)
}

// LedgerStore commits debits and audit records atomically.
type LedgerStore interface {
	Settle(ctx context.Context, userID int64, op models.OperationType, cost int, useFree bool, freeLimit int, imageID *int64) (models.SettleOutcome, error)
	Recharge(ctx context.Context, userID int64, amount int, operatorID *int64, reason string) (int, error)
	UsageRecords(ctx context.Context, userID int64, limit, offset int) ([]models.UsageRecord, int, error)
}

// Decision is the permission gate's verdict for one request. It carries the
// would-be cost so settlement charges exactly what was decided.
type Decision struct {
	Allowed       bool
	Cost          int
	UsesFree      bool
	Reason        string
	Credits       int
	Required      int
	RemainingFree int
}

const (
	ReasonAdminOverride       = "admin-override"
	ReasonFreeQuota           = "free-quota"
	ReasonCredits             = "credits"
	ReasonInsufficientCredits = "insufficient-credits"
	ReasonAccountNotFound     = "account-not-found"
)

// CreditService is the admission gate and the settlement entry point. Checks
// are pure: they read the ledger fresh and mutate nothing.
type CreditService struct {
	cfg    config.Config
	users  UserStore
	ledger LedgerStore
}

func NewCreditService(cfg config.Config, users UserStore, ledger LedgerStore) *CreditService {
	return &CreditService{cfg: cfg, users: users, ledger: ledger}
}

// CheckTextToImage admits admins unconditionally, then free quota, then
// credits.
func (s *CreditService) CheckTextToImage(ctx context.Context, userID int64, isAdmin bool) (Decision, error) {
	if isAdmin {
		return Decision{Allowed: true, Reason: ReasonAdminOverride}, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("read ledger: %w", err)
	}
	if user == nil {
		return Decision{Reason: ReasonAccountNotFound}, nil
	}

	if user.FreeT2ICount < s.cfg.FreeTextToImageLimit {
		return Decision{
			Allowed:       true,
			UsesFree:      true,
			Reason:        ReasonFreeQuota,
			Credits:       user.Credits,
			RemainingFree: s.cfg.FreeTextToImageLimit - user.FreeT2ICount,
		}, nil
	}

	cost := s.cfg.TextToImageCost
	if user.Credits >= cost {
		return Decision{Allowed: true, Cost: cost, Reason: ReasonCredits, Credits: user.Credits}, nil
	}
	return Decision{
		Reason:   ReasonInsufficientCredits,
		Credits:  user.Credits,
		Required: cost,
	}, nil
}

// CheckImageToImage has no free tier: credits or nothing.
func (s *CreditService) CheckImageToImage(ctx context.Context, userID int64, isAdmin bool) (Decision, error) {
	if isAdmin {
		return Decision{Allowed: true, Reason: ReasonAdminOverride}, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("read ledger: %w", err)
	}
	if user == nil {
		return Decision{Reason: ReasonAccountNotFound}, nil
	}

	cost := s.cfg.ImageToImageCost
	if user.Credits >= cost {
		return Decision{Allowed: true, Cost: cost, Reason: ReasonCredits, Credits: user.Credits}, nil
	}
	return Decision{
		Reason:   ReasonInsufficientCredits,
		Credits:  user.Credits,
		Required: cost,
	}, nil
}

// Settle commits the debit the gate decided for this request together with its
// usage record. Admin-override decisions record usage at zero cost without
// touching any counter.
func (s *CreditService) Settle(ctx context.Context, userID int64, op models.OperationType, decision Decision, imageID *int64) (models.SettleOutcome, error) {
	return s.ledger.Settle(ctx, userID, op, decision.Cost, decision.UsesFree, s.cfg.FreeTextToImageLimit, imageID)
}

func (s *CreditService) Recharge(ctx context.Context, userID int64, amount int, operatorID *int64, reason string) (int, error) {
	return s.ledger.Recharge(ctx, userID, amount, operatorID, reason)
}

// CreditInfo is the balance view the credits endpoint returns.
type CreditInfo struct {
	UserID        int64       `json:"user_id"`
	Username      string      `json:"username"`
	Credits       int         `json:"credits"`
	FreeUsed      int         `json:"free_used"`
	RemainingFree int         `json:"remaining_free"`
	Role          models.Role `json:"role"`
}

func (s *CreditService) Info(ctx context.Context, userID int64) (*CreditInfo, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read user: %w", err)
	}
	if user == nil {
		return nil, nil
	}
	remaining := s.cfg.FreeTextToImageLimit - user.FreeT2ICount
	if remaining < 0 {
		remaining = 0
	}
	return &CreditInfo{
		UserID:        user.ID,
		Username:      user.Username,
		Credits:       user.Credits,
		FreeUsed:      user.FreeT2ICount,
		RemainingFree: remaining,
		Role:          user.Role,
	}, nil
}

func (s *CreditService) UsageRecords(ctx context.Context, userID int64, page, limit int) ([]models.UsageRecord, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.ledger.UsageRecords(ctx, userID, limit, (page-1)*limit)
}
