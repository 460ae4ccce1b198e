package models

import (
	"log"

	"github.com/carebook/hospital_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&AccountBalance{}, &BalanceTransaction{},
		&ReconciliationRecord{}, &DiscrepancyAlert{},
		&BalanceCorrection{},
		&FinancialHealthCheck{},
		&Operator{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
