package models

import (
	"context"
	"errors"
	"time"

	"github.com/carebook/hospital_backend/config"
	"github.com/carebook/hospital_backend/utils"
	"gorm.io/gorm"
)

// Operator is a back-office user allowed to touch the finance console.
// Admins may apply balance corrections; auditors are read/resolve only.
type Operator struct {
	ID           int          `gorm:"primary_key" json:"id"`
	Username     string       `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name         string       `gorm:"size:100;not null" json:"name" binding:"required"`
	PasswordHash string       `gorm:"size:255;not null" json:"-"`
	Role         OperatorRole `gorm:"type:enum('admin','auditor');default:'auditor'" json:"role"`
	IsActive     *bool        `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetOperatorByUsername(ctx context.Context, username string) (*Operator, error) {
	db := config.GetDB()
	var op Operator
	err := db.WithContext(ctx).Where("username = ?", username).First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &op, nil
}

// LoginOperator checks credentials and returns a signed token.
func LoginOperator(ctx context.Context, username string, password string) (string, *Operator, error) {
	op, err := GetOperatorByUsername(ctx, username)
	if err != nil {
		return "", nil, errors.New("invalid username or password")
	}
	if op.IsActive != nil && !*op.IsActive {
		return "", nil, errors.New("operator is deactivated")
	}
	if err := utils.ComparePassword(op.PasswordHash, password); err != nil {
		return "", nil, errors.New("invalid username or password")
	}
	token, err := utils.JwtGenerate(op.ID, op.Name, string(op.Role))
	if err != nil {
		return "", nil, err
	}
	return token, op, nil
}
