// reconcile-daily runs the end-of-day reconciliation as a standalone job
// (Cloud Scheduler / cron), independent of the API server.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/reconcile-daily [-date YYYY-MM-DD]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/carebook/hospital_backend/config"
	"github.com/carebook/hospital_backend/ledger"
	"github.com/carebook/hospital_backend/models"
	"github.com/carebook/hospital_backend/utils"
)

func main() {
	dateArg := flag.String("date", "", "Calendar date to reconcile (YYYY-MM-DD). Defaults to yesterday (UTC).")
	flag.Parse()

	date := time.Now().UTC().AddDate(0, 0, -1)
	if strings.TrimSpace(*dateArg) != "" {
		var err error
		date, err = utils.ParseDate(*dateArg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -date %q: %v\n", *dateArg, err)
			os.Exit(2)
		}
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	svc := ledger.NewService(db, config.GetLogger(), nil, config.LoadFinanceConfig())

	record, err := svc.Reconcile(context.Background(), date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation failed for %s: %v\n", date.Format("2006-01-02"), err)
		os.Exit(1)
	}

	fmt.Printf("Reconciled %s: status=%s accounts=%d discrepancies=%d\n",
		record.Date.Format("2006-01-02"), record.Status, record.AccountsChecked, record.DiscrepancyCount)
	if record.Status != models.ReconciliationStatusReconciled {
		// Non-zero exit so the scheduler surfaces the run for triage.
		os.Exit(3)
	}
}
