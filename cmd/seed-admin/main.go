// seed-admin creates or updates the finance console admin operator.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  ADMIN_USERNAME=... ADMIN_PASSWORD=... go run ./cmd/seed-admin
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/carebook/hospital_backend/config"
	"github.com/carebook/hospital_backend/models"
	"github.com/carebook/hospital_backend/utils"
	"gorm.io/gorm"
)

const (
	defaultAdminUsername = "financeAdmin"
	defaultAdminName     = "Finance Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	models.MigrateTable()

	username := os.Getenv("ADMIN_USERNAME")
	if username == "" {
		username = defaultAdminUsername
	}
	name := os.Getenv("ADMIN_NAME")
	if name == "" {
		name = defaultAdminName
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_PASSWORD is required")
		os.Exit(2)
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	active := true
	var existing models.Operator
	err = db.WithContext(ctx).Where("username = ?", username).First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Fprintf(os.Stderr, "failed to lookup operator: %v\n", err)
			os.Exit(1)
		}
		op := models.Operator{
			Username:     username,
			Name:         name,
			PasswordHash: hashedStr,
			Role:         models.OperatorRoleAdmin,
			IsActive:     &active,
		}
		if err := db.WithContext(ctx).Create(&op).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin operator: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin operator: username=%q\n", username)
		return
	}

	if err := db.WithContext(ctx).Model(&models.Operator{}).Where("username = ?", username).Updates(map[string]any{
		"password_hash": hashedStr,
		"name":          name,
		"role":          models.OperatorRoleAdmin,
		"is_active":     &active,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin operator: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated admin operator: username=%q\n", username)
}
