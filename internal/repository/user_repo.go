package repository

import (
	"context"
	"errors"
	"time"

	"github.com/theblackhat55/aria51a-sub006/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRepository defines the interface for data access of User entities
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetBySAMLSubjectOrEmail(ctx context.Context, subjectID, email string) (*model.User, error)
	List(ctx context.Context, page, limit int) ([]model.User, int64, error)
	Update(ctx context.Context, user *model.User) error
	Delete(ctx context.Context, id uuid.UUID) error

	// IncrementFailedLogins bumps the failure counter in a single atomic
	// statement and returns the post-increment count, so two concurrent
	// failed logins never read-modify-write the same value.
	IncrementFailedLogins(ctx context.Context, id uuid.UUID) (int, error)
	SetLockedUntil(ctx context.Context, id uuid.UUID, until *time.Time) error
	ClearLockout(ctx context.Context, id uuid.UUID) error
	ResetFailedLogins(ctx context.Context, id uuid.UUID, lastLogin time.Time) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new instance of UserRepository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return GetDB(ctx, r.db).Create(user).Error
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).First(&user, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetBySAMLSubjectOrEmail matches a federated identity to a local account.
// A subject-id match always wins; the email is only consulted when no account
// carries the asserted subject, which tolerates subject-id rotation by the IdP
// as long as the email stays stable.
func (r *userRepository) GetBySAMLSubjectOrEmail(ctx context.Context, subjectID, email string) (*model.User, error) {
	db := GetDB(ctx, r.db)

	if subjectID != "" {
		var user model.User
		err := db.First(&user, "saml_subject_id = ?", subjectID).Error
		if err == nil {
			return &user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if email == "" {
		return nil, gorm.ErrRecordNotFound
	}

	var user model.User
	if err := db.First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) List(ctx context.Context, page, limit int) ([]model.User, int64, error) {
	var users []model.User
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("created_at asc").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	return GetDB(ctx, r.db).Save(user).Error
}

func (r *userRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.User{}).Error
}

func (r *userRepository) IncrementFailedLogins(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	res := GetDB(ctx, r.db).Raw(
		`UPDATE users SET failed_login_attempts = failed_login_attempts + 1, updated_at = now()
		 WHERE id = ? AND deleted_at IS NULL
		 RETURNING failed_login_attempts`,
		id,
	).Scan(&attempts)
	if res.Error != nil {
		return 0, res.Error
	}
	// Scan leaves attempts at zero without an error when no row matched.
	if res.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return attempts, nil
}

func (r *userRepository) SetLockedUntil(ctx context.Context, id uuid.UUID, until *time.Time) error {
	return GetDB(ctx, r.db).Model(&model.User{}).
		Where("id = ?", id).
		Update("locked_until", until).Error
}

func (r *userRepository) ClearLockout(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"locked_until":          nil,
			"failed_login_attempts": 0,
		}).Error
}

func (r *userRepository) ResetFailedLogins(ctx context.Context, id uuid.UUID, lastLogin time.Time) error {
	return GetDB(ctx, r.db).Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"failed_login_attempts": 0,
			"last_login":            lastLogin,
		}).Error
}
