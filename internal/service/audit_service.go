package service

import (
	"context"
	"encoding/json"

	"github.com/theblackhat55/aria51a-sub006/internal/repository"
)

type AuditLogResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Action      string `json:"action"`
	Details     string `json:"details"`
	PerformedBy string `json:"performed_by"`
	CreatedAt   string `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	auditRepo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repository.AuditRepository) AuditService {
	return &auditService{auditRepo: auditRepo}
}

// GetAuditLogs retrieves strictly paginated records with users pre-loaded
func (s *auditService) GetAuditLogs(ctx context.Context, page, limit int) ([]AuditLogResponse, int64, error) {
	logs, total, err := s.auditRepo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		username := ""
		userID := ""
		if l.User != nil {
			username = l.User.Username
		}
		if l.UserID != nil {
			userID = l.UserID.String()
		}
		performedBy := "system"
		if l.PerformedBy != nil {
			performedBy = l.PerformedBy.String()
		}

		res = append(res, AuditLogResponse{
			ID:          l.ID.String(),
			UserID:      userID,
			Username:    username,
			Action:      l.Action,
			Details:     l.Details,
			PerformedBy: performedBy,
			CreatedAt:   l.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	return res, total, nil
}

// auditDetails serializes a details payload for the jsonb column. A payload
// that cannot serialize degrades to an empty object rather than blocking the
// audited operation.
func auditDetails(payload map[string]interface{}) string {
	if payload == nil {
		return "{}"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}
