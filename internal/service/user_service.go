package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/theblackhat55/aria51a-sub006/internal/model"
	"github.com/theblackhat55/aria51a-sub006/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
)

// DTOs for Request validation
type CreateUserRequest struct {
	Username   string `json:"username" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=8"`
	Role       string `json:"role" binding:"required"`
	Department string `json:"department"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

type UpdateUserRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email" binding:"omitempty,email"`
	Department string `json:"department"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	// Permissions replaces the user-specific override set when non-nil.
	Permissions model.PermissionSet `json:"permissions"`
}

type LoginUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type TokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

// DTO for returning User without exposing sensitive data
type UserResponse struct {
	ID                  uuid.UUID  `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Department          string     `json:"department"`
	AuthType            string     `json:"auth_type"`
	Role                string     `json:"role"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	CreatedAt           string     `json:"created_at"`
	UpdatedAt           string     `json:"updated_at"`
}

// UserService defines the interface for business logic related to User
type UserService interface {
	CreateUser(ctx context.Context, req CreateUserRequest, createdBy model.Actor) (*UserResponse, error)
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	RefreshToken(ctx context.Context, req RefreshTokenRequest) (*TokenResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	GetUserByID(ctx context.Context, id string) (*UserResponse, error)
	ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error)
	UpdateUser(ctx context.Context, id string, req UpdateUserRequest, updatedBy model.Actor) (*UserResponse, error)
	DeleteUser(ctx context.Context, id string) error
}

type userService struct {
	userRepo    repository.UserRepository
	roleRepo    repository.RoleRepository
	tokenRepo   repository.RefreshTokenRepository
	samlRepo    repository.SAMLRepository
	auditRepo   repository.AuditRepository
	roleService RoleService
	security    SecurityService
	jwtSecret   []byte
}

// NewUserService returns a new instance of UserService
func NewUserService(
	userRepo repository.UserRepository,
	roleRepo repository.RoleRepository,
	tokenRepo repository.RefreshTokenRepository,
	samlRepo repository.SAMLRepository,
	auditRepo repository.AuditRepository,
	roleService RoleService,
	security SecurityService,
	jwtSecret []byte,
) UserService {
	return &userService{
		userRepo:    userRepo,
		roleRepo:    roleRepo,
		tokenRepo:   tokenRepo,
		samlRepo:    samlRepo,
		auditRepo:   auditRepo,
		roleService: roleService,
		security:    security,
		jwtSecret:   jwtSecret,
	}
}

// Helper: parse model to standard json API response
func mapToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:                  user.ID,
		Username:            user.Username,
		Email:               user.Email,
		FirstName:           user.FirstName,
		LastName:            user.LastName,
		Department:          user.Department,
		AuthType:            user.AuthType,
		Role:                user.Role,
		FailedLoginAttempts: user.FailedLoginAttempts,
		LockedUntil:         user.LockedUntil,
		LastLogin:           user.LastLogin,
		CreatedAt:           user.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:           user.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *userService) CreateUser(ctx context.Context, req CreateUserRequest, createdBy model.Actor) (*UserResponse, error) {
	role, err := s.roleRepo.FindByName(ctx, req.Role)
	if err != nil {
		return nil, fmt.Errorf("invalid role '%s'", req.Role)
	}

	if _, err := s.userRepo.GetByUsername(ctx, req.Username); err == nil {
		return nil, errors.New("username already exists")
	}
	if _, err := s.userRepo.GetByEmail(ctx, req.Email); err == nil {
		return nil, errors.New("email already exists")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.New("failed to hash password")
	}

	user := &model.User{
		Username:    req.Username,
		Email:       req.Email,
		Password:    string(hashedPassword),
		AuthType:    model.AuthTypeLocal,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Department:  req.Department,
		Role:        role.Name,
		Permissions: model.PermissionSet{},
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	if err := s.roleService.AssignRole(ctx, user.ID, role.ID, createdBy, nil); err != nil {
		return nil, err
	}

	return mapToResponse(user), nil
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	cfg, err := s.samlRepo.GetConfig(ctx)
	if err != nil {
		return nil, errors.New("login is temporarily unavailable")
	}
	if cfg.EnforceSSO {
		return nil, errors.New("password login is disabled, use single sign-on")
	}

	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, errors.New("invalid email or password")
	}

	if user.AuthType == model.AuthTypeSAML {
		return nil, errors.New("this account uses single sign-on")
	}

	if user.IsLocked(time.Now()) {
		return nil, fmt.Errorf("%w until %s", ErrAccountLocked, user.LockedUntil.Format(time.RFC3339))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		result, recErr := s.security.RecordFailedLogin(ctx, user.ID)
		if recErr != nil {
			return nil, errors.New("invalid email or password")
		}
		// Best effort: a failed audit append must not mask the auth outcome.
		_ = s.auditRepo.Log(ctx, &model.AuditLog{
			UserID:      &user.ID,
			Action:      model.ActionLoginFailed,
			Details:     auditDetails(map[string]interface{}{"email": user.Email, "attempts": result.Attempts}),
			PerformedBy: model.SystemActor().UserID(),
		})
		if result.Locked {
			return nil, fmt.Errorf("%w: too many failed attempts", ErrAccountLocked)
		}
		return nil, fmt.Errorf("invalid email or password (%d attempts remaining)", result.AttemptsRemaining)
	}

	if err := s.security.ResetFailedLogins(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to finish login: %w", err)
	}

	if err := s.auditRepo.Log(ctx, &model.AuditLog{
		UserID:      &user.ID,
		Action:      model.ActionLoginSuccess,
		Details:     auditDetails(map[string]interface{}{"email": user.Email}),
		PerformedBy: model.HumanActor(user.ID).UserID(),
	}); err != nil {
		return nil, fmt.Errorf("failed to audit login: %w", err)
	}

	return s.issueTokens(ctx, user)
}

func (s *userService) RefreshToken(ctx context.Context, req RefreshTokenRequest) (*TokenResponse, error) {
	stored, err := s.tokenRepo.FindValid(ctx, req.RefreshToken)
	if err != nil {
		return nil, errors.New("invalid or expired refresh token")
	}

	user, err := s.userRepo.GetByID(ctx, stored.UserID)
	if err != nil {
		return nil, errors.New("user not found")
	}
	if user.IsLocked(time.Now()) {
		return nil, ErrAccountLocked
	}

	// Rotate: the old refresh token is single-use.
	if err := s.tokenRepo.Delete(ctx, req.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return s.issueTokens(ctx, user)
}

func (s *userService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.tokenRepo.Delete(ctx, refreshToken)
}

func (s *userService) issueTokens(ctx context.Context, user *model.User) (*TokenResponse, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(accessTokenTTL).Unix(),
	})

	accessToken, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, errors.New("failed to generate token")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.New("failed to generate refresh token")
	}
	refreshToken := hex.EncodeToString(raw)

	if err := s.tokenRepo.Create(ctx, &model.RefreshToken{
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: now.Add(refreshTokenTTL),
	}); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return &TokenResponse{Token: accessToken, RefreshToken: refreshToken}, nil
}

func (s *userService) GetUserByID(ctx context.Context, id string) (*UserResponse, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.New("invalid user id")
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, errors.New("user not found")
	}
	return mapToResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	users, total, err := s.userRepo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}

	var responses []UserResponse
	for _, u := range users {
		responses = append(responses, *mapToResponse(&u))
	}

	return responses, total, nil
}

func (s *userService) UpdateUser(ctx context.Context, id string, req UpdateUserRequest, updatedBy model.Actor) (*UserResponse, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.New("invalid user id")
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, errors.New("user not found")
	}

	if req.Username != "" && req.Username != user.Username {
		if _, err := s.userRepo.GetByUsername(ctx, req.Username); err == nil {
			return nil, errors.New("username already exists")
		}
		user.Username = req.Username
	}

	if req.Email != "" && req.Email != user.Email {
		if _, err := s.userRepo.GetByEmail(ctx, req.Email); err == nil {
			return nil, errors.New("email already exists")
		}
		user.Email = req.Email
	}

	if req.Department != "" {
		user.Department = req.Department
	}
	if req.FirstName != "" {
		user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		user.LastName = req.LastName
	}

	if req.Permissions != nil {
		if err := req.Permissions.Validate(); err != nil {
			return nil, fmt.Errorf("invalid permission override: %w", err)
		}
		user.Permissions = req.Permissions
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}

	return mapToResponse(user), nil
}

func (s *userService) DeleteUser(ctx context.Context, id string) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return errors.New("invalid user id")
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return errors.New("user not found")
	}
	return s.userRepo.Delete(ctx, userID)
}
