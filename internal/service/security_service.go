package service

import (
	"context"
	"fmt"
	"time"

	"github.com/theblackhat55/aria51a-sub006/internal/model"
	"github.com/theblackhat55/aria51a-sub006/internal/repository"
	ws "github.com/theblackhat55/aria51a-sub006/internal/websocket"

	"github.com/google/uuid"
)

const (
	// DefaultMaxFailedAttempts is the failure count at which an account locks.
	DefaultMaxFailedAttempts = 5
	// DefaultLockDuration is how long an automatic lockout lasts.
	DefaultLockDuration = 30 * time.Minute
)

// FailedLoginResult tells the caller what happened so "N attempts remaining"
// can be surfaced to the end user.
type FailedLoginResult struct {
	Locked            bool `json:"locked"`
	Attempts          int  `json:"attempts"`
	AttemptsRemaining int  `json:"attempts_remaining"`
}

// SecurityService is the account security state machine:
// Active -> Locked -> Active. Lockouts are time-boxed and auto-expire; every
// read checks locked_until against now instead of relying on a cleanup job.
type SecurityService interface {
	RecordFailedLogin(ctx context.Context, userID uuid.UUID) (FailedLoginResult, error)
	// IsUserLocked is a pure read with no side effects, so repeated
	// authorization probes never extend or reset lock state.
	IsUserLocked(ctx context.Context, userID uuid.UUID) (bool, error)
	LockUser(ctx context.Context, userID uuid.UUID, duration time.Duration, lockedBy model.Actor) error
	UnlockUser(ctx context.Context, userID uuid.UUID, unlockedBy model.Actor) error
	ResetFailedLogins(ctx context.Context, userID uuid.UUID) error
}

type securityService struct {
	userRepo     repository.UserRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	hub          *ws.Hub
	maxAttempts  int
	lockDuration time.Duration
}

func NewSecurityService(
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
) SecurityService {
	return &securityService{
		userRepo:     userRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		hub:          hub,
		maxAttempts:  DefaultMaxFailedAttempts,
		lockDuration: DefaultLockDuration,
	}
}

// NewSecurityServiceWithPolicy overrides the lockout thresholds.
func NewSecurityServiceWithPolicy(
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
	maxAttempts int,
	lockDuration time.Duration,
) SecurityService {
	return &securityService{
		userRepo:     userRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		hub:          hub,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
	}
}

func (s *securityService) RecordFailedLogin(ctx context.Context, userID uuid.UUID) (FailedLoginResult, error) {
	attempts, err := s.userRepo.IncrementFailedLogins(ctx, userID)
	if err != nil {
		return FailedLoginResult{}, fmt.Errorf("failed to record login failure: %w", err)
	}

	result := FailedLoginResult{Attempts: attempts}
	if remaining := s.maxAttempts - attempts; remaining > 0 {
		result.AttemptsRemaining = remaining
	}

	if attempts < s.maxAttempts {
		return result, nil
	}

	until := time.Now().Add(s.lockDuration)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.userRepo.SetLockedUntil(txCtx, userID, &until); err != nil {
			return err
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID: &userID,
			Action: model.ActionUserLocked,
			Details: auditDetails(map[string]interface{}{
				"failed_attempts": attempts,
				"locked_until":    until,
				"automatic":       true,
			}),
			PerformedBy: model.SystemActor().UserID(),
		})
	})
	if err != nil {
		return result, fmt.Errorf("failed to lock account: %w", err)
	}

	result.Locked = true
	if s.hub != nil {
		s.hub.BroadcastEvent(model.ActionUserLocked, map[string]interface{}{
			"user_id":      userID,
			"locked_until": until,
		})
	}
	return result, nil
}

func (s *securityService) IsUserLocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load user: %w", err)
	}
	return user.IsLocked(time.Now()), nil
}

func (s *securityService) LockUser(ctx context.Context, userID uuid.UUID, duration time.Duration, lockedBy model.Actor) error {
	if duration <= 0 {
		duration = s.lockDuration
	}
	until := time.Now().Add(duration)

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.userRepo.SetLockedUntil(txCtx, userID, &until); err != nil {
			return err
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID: &userID,
			Action: model.ActionUserLocked,
			Details: auditDetails(map[string]interface{}{
				"locked_until": until,
				"automatic":    false,
			}),
			PerformedBy: lockedBy.UserID(),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(model.ActionUserLocked, map[string]interface{}{
			"user_id":      userID,
			"locked_until": until,
			"locked_by":    lockedBy.String(),
		})
	}
	return nil
}

// UnlockUser clears locked_until and zeroes the failure counter. A partial
// unlock leaving a nonzero counter is not a valid state.
func (s *securityService) UnlockUser(ctx context.Context, userID uuid.UUID, unlockedBy model.Actor) error {
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.userRepo.ClearLockout(txCtx, userID); err != nil {
			return err
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:      &userID,
			Action:      model.ActionUserUnlocked,
			Details:     auditDetails(nil),
			PerformedBy: unlockedBy.UserID(),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to unlock user: %w", err)
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(model.ActionUserUnlocked, map[string]interface{}{
			"user_id":     userID,
			"unlocked_by": unlockedBy.String(),
		})
	}
	return nil
}

// ResetFailedLogins is called on every successful authentication. It zeroes
// the counter and stamps last_login but never touches locked_until; a
// successful login is not possible while locked, so callers check
// IsUserLocked first.
func (s *securityService) ResetFailedLogins(ctx context.Context, userID uuid.UUID) error {
	return s.userRepo.ResetFailedLogins(ctx, userID, time.Now())
}
