// health-sweep runs a one-shot financial health check as a standalone job.
// Exit code 3 signals ISSUES_DETECTED so alerting can key off the scheduler.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/carebook/hospital_backend/config"
	"github.com/carebook/hospital_backend/ledger"
	"github.com/carebook/hospital_backend/models"
)

func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	svc := ledger.NewService(db, config.GetLogger(), nil, config.LoadFinanceConfig())

	check, err := svc.HealthCheck(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Health check %d: status=%s alerts=%d\n", check.ID, check.Status, len(check.Alerts))
	for _, a := range check.Alerts {
		fmt.Printf("  - %s\n", a)
	}
	if check.Status == models.HealthStatusIssuesDetected {
		os.Exit(3)
	}
}
