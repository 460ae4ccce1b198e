package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carebook/hospital_backend/config"
	"github.com/carebook/hospital_backend/ledger"
	"github.com/carebook/hospital_backend/models"
	"github.com/shopspring/decimal"
)

// newTestService boots MySQL + Redis in docker, connects the config globals,
// migrates the schema and returns a ready Service.
func newTestService(t *testing.T) *ledger.Service {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "hospital_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	return ledger.NewService(config.GetDB(), config.GetLogger(), config.GetRedisLock(), config.LoadFinanceConfig())
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestLedgerPostingLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	db := config.GetDB()

	patient := models.AccountRef{Kind: models.AccountKindPatient, OwnerId: "patient-42"}

	// First posting lazily creates the account.
	bal, txn, err := svc.Apply(ctx, ledger.ApplyInput{
		Account:     patient,
		Amount:      mustDec(t, "150.00"),
		Type:        models.TransactionTypePaymentReceived,
		Description: "consultation payment",
		Actor:       "payment-gateway",
	})
	if err != nil {
		t.Fatalf("Apply(payment): %v", err)
	}
	if !bal.CurrentBalance.Equal(mustDec(t, "150.00")) {
		t.Fatalf("balance after payment = %s, want 150.00", bal.CurrentBalance)
	}
	if !txn.BalanceBefore.IsZero() || !txn.BalanceAfter.Equal(mustDec(t, "150.00")) {
		t.Fatalf("transaction snapshot wrong: before=%s after=%s", txn.BalanceBefore, txn.BalanceAfter)
	}
	if !bal.TotalEarnings.Equal(mustDec(t, "150.00")) {
		t.Fatalf("total earnings = %s, want 150.00", bal.TotalEarnings)
	}

	// Withdrawal routes abs(amount) to total_withdrawals.
	bal, _, err = svc.Apply(ctx, ledger.ApplyInput{
		Account: patient,
		Amount:  mustDec(t, "-50.00"),
		Type:    models.TransactionTypeWithdrawal,
		Actor:   "payment-gateway",
	})
	if err != nil {
		t.Fatalf("Apply(withdrawal): %v", err)
	}
	if !bal.CurrentBalance.Equal(mustDec(t, "100.00")) {
		t.Fatalf("balance after withdrawal = %s, want 100.00", bal.CurrentBalance)
	}
	if !bal.TotalWithdrawals.Equal(mustDec(t, "50.00")) {
		t.Fatalf("total withdrawals = %s, want 50.00", bal.TotalWithdrawals)
	}

	// A rejected posting must leave no trace: no balance change, no row.
	_, _, err = svc.Apply(ctx, ledger.ApplyInput{
		Account: patient,
		Amount:  mustDec(t, "10.001"),
		Type:    models.TransactionTypePaymentReceived,
		Actor:   "payment-gateway",
	})
	var invalidAmount *ledger.InvalidAmountError
	if !errors.As(err, &invalidAmount) {
		t.Fatalf("expected InvalidAmountError, got %v", err)
	}
	reRead, err := svc.GetBalance(ctx, patient)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !reRead.CurrentBalance.Equal(mustDec(t, "100.00")) {
		t.Fatalf("rejected posting moved the balance: %s", reRead.CurrentBalance)
	}

	// Idempotent retry: same external ref applies once.
	ref := "pay_abc123"
	_, _, err = svc.Apply(ctx, ledger.ApplyInput{
		Account:     patient,
		Amount:      mustDec(t, "20.00"),
		Type:        models.TransactionTypePaymentReceived,
		ExternalRef: &ref,
		Actor:       "payment-gateway",
	})
	if err != nil {
		t.Fatalf("Apply(external ref): %v", err)
	}
	_, _, err = svc.Apply(ctx, ledger.ApplyInput{
		Account:     patient,
		Amount:      mustDec(t, "20.00"),
		Type:        models.TransactionTypePaymentReceived,
		ExternalRef: &ref,
		Actor:       "payment-gateway",
	})
	var dup *ledger.DuplicateExternalRefError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateExternalRefError on retry, got %v", err)
	}
	reRead, _ = svc.GetBalance(ctx, patient)
	if !reRead.CurrentBalance.Equal(mustDec(t, "120.00")) {
		t.Fatalf("retried callback double applied: balance = %s, want 120.00", reRead.CurrentBalance)
	}

	// Concurrent withdrawals serialize; no lost updates.
	var wg sync.WaitGroup
	applyErrs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Apply(ctx, ledger.ApplyInput{
				Account: patient,
				Amount:  mustDec(t, "-10.00"),
				Type:    models.TransactionTypeWithdrawal,
				Actor:   "payment-gateway",
			})
			applyErrs <- err
		}()
	}
	wg.Wait()
	close(applyErrs)
	for err := range applyErrs {
		if err != nil {
			t.Fatalf("concurrent Apply: %v", err)
		}
	}
	reRead, _ = svc.GetBalance(ctx, patient)
	if !reRead.CurrentBalance.Equal(mustDec(t, "70.00")) {
		t.Fatalf("balance after concurrent withdrawals = %s, want 70.00", reRead.CurrentBalance)
	}

	// The transaction log must chain: each balance_before equals the previous
	// balance_after, regardless of arrival order.
	var log []models.BalanceTransaction
	if err := db.Where("account_id = ?", reRead.ID).Order("id ASC").Find(&log).Error; err != nil {
		t.Fatalf("read transaction log: %v", err)
	}
	if len(log) != 8 {
		t.Fatalf("transaction count = %d, want 8", len(log))
	}
	running := decimal.Zero
	for i, row := range log {
		if !row.BalanceBefore.Equal(running) {
			t.Fatalf("log row %d: balance_before = %s, want %s", i, row.BalanceBefore, running)
		}
		running = running.Add(row.Amount)
		if !row.BalanceAfter.Equal(running) {
			t.Fatalf("log row %d: balance_after = %s, want %s", i, row.BalanceAfter, running)
		}
	}

	// Audit projection covers the whole window, newest first.
	now := time.Now().UTC()
	report, err := svc.AuditReport(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("AuditReport: %v", err)
	}
	if len(report.Transactions) != 8 {
		t.Fatalf("audit transactions = %d, want 8", len(report.Transactions))
	}
	for i := 1; i < len(report.Transactions); i++ {
		if report.Transactions[i].ID > report.Transactions[i-1].ID {
			t.Fatalf("audit transactions not in descending order at index %d", i)
		}
	}
	// Nothing outside the window.
	empty, err := svc.AuditReport(ctx, now.Add(-48*time.Hour), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("AuditReport(empty window): %v", err)
	}
	if len(empty.Transactions) != 0 {
		t.Fatalf("expected empty audit window, got %d transactions", len(empty.Transactions))
	}
}

func TestReconciliationDiscrepancyAndCorrectionWorkflow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	db := config.GetDB()

	hospital := models.AccountRef{Kind: models.AccountKindHospital, OwnerId: "city-general"}
	if _, _, err := svc.Apply(ctx, ledger.ApplyInput{
		Account: hospital,
		Amount:  mustDec(t, "1000.00"),
		Type:    models.TransactionTypePaymentReceived,
		Actor:   "payment-gateway",
	}); err != nil {
		t.Fatalf("seed Apply: %v", err)
	}

	today := time.Now().UTC()

	// Clean ledger reconciles.
	record, err := svc.Reconcile(ctx, today)
	if err != nil {
		t.Fatalf("Reconcile(clean): %v", err)
	}
	if record.Status != models.ReconciliationStatusReconciled {
		t.Fatalf("status = %s, want RECONCILED", record.Status)
	}
	if record.AccountsChecked != 1 || record.DiscrepancyCount != 0 {
		t.Fatalf("checked=%d discrepancies=%d, want 1/0", record.AccountsChecked, record.DiscrepancyCount)
	}

	// Inject drift outside the mutator, the way a bug or manual edit would.
	bal, err := svc.GetBalance(ctx, hospital)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if err := db.Exec(
		"UPDATE account_balances SET current_balance = current_balance + 250, version = version + 1 WHERE id = ?",
		bal.ID,
	).Error; err != nil {
		t.Fatalf("inject drift: %v", err)
	}

	record, err = svc.Reconcile(ctx, today)
	if err != nil {
		t.Fatalf("Reconcile(drifted): %v", err)
	}
	if record.Status != models.ReconciliationStatusDiscrepancyFound {
		t.Fatalf("status = %s, want DISCREPANCY_FOUND", record.Status)
	}
	if len(record.DiscrepancyAlerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(record.DiscrepancyAlerts))
	}
	alert := record.DiscrepancyAlerts[0]
	if !alert.Difference.Equal(mustDec(t, "250.00")) {
		t.Fatalf("difference = %s, want 250.00", alert.Difference)
	}
	if alert.Severity != models.DiscrepancySeverityMedium {
		t.Fatalf("severity = %s, want MEDIUM", alert.Severity)
	}

	// Re-running the same date appends; nothing is overwritten.
	var runCount int64
	if err := db.Model(&models.ReconciliationRecord{}).Count(&runCount).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	if runCount != 2 {
		t.Fatalf("reconciliation records = %d, want 2", runCount)
	}

	// Resolution workflow: OPEN -> RESOLVED exactly once.
	resolved, err := svc.ResolveAlert(ctx, alert.ID, "auditor-jane", "verified against gateway settlement")
	if err != nil {
		t.Fatalf("ResolveAlert: %v", err)
	}
	if resolved.Status != models.DiscrepancyStatusResolved || resolved.ResolvedBy == nil {
		t.Fatalf("alert not closed: %+v", resolved)
	}
	if _, err := svc.ResolveAlert(ctx, alert.ID, "auditor-jane", "again"); !errors.Is(err, ledger.ErrAlreadyResolved) {
		t.Fatalf("second resolve: got %v, want ErrAlreadyResolved", err)
	}
	if _, err := svc.IgnoreAlert(ctx, alert.ID, "auditor-jane", "noise"); !errors.Is(err, ledger.ErrAlreadyResolved) {
		t.Fatalf("ignore after resolve: got %v, want ErrAlreadyResolved", err)
	}
	if _, err := svc.ResolveAlert(ctx, 999999, "auditor-jane", "n/a"); !errors.Is(err, ledger.ErrAlertNotFound) {
		t.Fatalf("resolve unknown id: got %v, want ErrAlertNotFound", err)
	}

	open := models.DiscrepancyStatusOpen
	alerts, err := svc.ListAlerts(ctx, &open, nil)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("open alerts after resolution = %d, want 0", len(alerts))
	}

	// Correction against a stale claim is rejected before touching anything.
	stored, _ := svc.GetBalance(ctx, hospital)
	_, err = svc.Correct(ctx, ledger.CorrectionInput{
		Account:               hospital,
		ClaimedCurrentBalance: stored.CurrentBalance.Sub(mustDec(t, "1.00")),
		TargetBalance:         mustDec(t, "1000.00"),
		Reason:                "revert manual edit",
		AdminId:               1,
		AdminName:             "admin-root",
	})
	var stale *ledger.StaleBalanceError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleBalanceError, got %v", err)
	}

	// Correct with the right claim: balance forced to target, adjustment row
	// appended, correction row links to it.
	correction, err := svc.Correct(ctx, ledger.CorrectionInput{
		Account:               hospital,
		ClaimedCurrentBalance: stored.CurrentBalance,
		TargetBalance:         mustDec(t, "1000.00"),
		Reason:                "revert manual edit",
		AdminId:               1,
		AdminName:             "admin-root",
	})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if !correction.BalanceAfter.Equal(mustDec(t, "1000.00")) {
		t.Fatalf("corrected balance = %s, want 1000.00", correction.BalanceAfter)
	}
	var adj models.BalanceTransaction
	if err := db.First(&adj, correction.TransactionId).Error; err != nil {
		t.Fatalf("correction transaction missing: %v", err)
	}
	if adj.TransactionType != models.TransactionTypeAdjustment {
		t.Fatalf("correction transaction type = %s, want adjustment", adj.TransactionType)
	}

	// No-op correction is rejected.
	_, err = svc.Correct(ctx, ledger.CorrectionInput{
		Account:               hospital,
		ClaimedCurrentBalance: mustDec(t, "1000.00"),
		TargetBalance:         mustDec(t, "1000.00"),
		Reason:                "noop",
		AdminId:               1,
		AdminName:             "admin-root",
	})
	var invalidAmount *ledger.InvalidAmountError
	if !errors.As(err, &invalidAmount) {
		t.Fatalf("expected InvalidAmountError for no-op correction, got %v", err)
	}

	// Health sweep: drive the platform into a flagged state via a negative
	// balance, which the mutator permits and the monitor reports.
	patient := models.AccountRef{Kind: models.AccountKindPatient, OwnerId: "patient-7"}
	if _, _, err := svc.Apply(ctx, ledger.ApplyInput{
		Account: patient,
		Amount:  mustDec(t, "-40.00"),
		Type:    models.TransactionTypeWithdrawal,
		Actor:   "payment-gateway",
	}); err != nil {
		t.Fatalf("Apply(overdraft): %v", err)
	}
	check, err := svc.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if check.Status != models.HealthStatusIssuesDetected {
		t.Fatalf("health status = %s, want ISSUES_DETECTED", check.Status)
	}
	if check.Metrics.NegativeBalanceCount != 1 {
		t.Fatalf("negative balance count = %d, want 1", check.Metrics.NegativeBalanceCount)
	}
	// The injected drift never entered the transaction log, and the correction
	// moved the stored balance and the log by the same delta. The platform-wide
	// sum is still off by the injected amount and the monitor must say so.
	if check.Metrics.LedgerInvariantHolds {
		t.Fatal("ledger sum invariant should be broken by the injected drift")
	}
	if !check.Metrics.LedgerSumDrift.Equal(mustDec(t, "250.00")) {
		t.Fatalf("ledger sum drift = %s, want 250.00", check.Metrics.LedgerSumDrift)
	}

	// An orphaned transaction (its balance row gone out-of-band) is an
	// inconsistency the run cannot score, and must surface as ISSUES_DETECTED
	// with the account listed, not as an ordinary discrepancy.
	patientBal, err := svc.GetBalance(ctx, patient)
	if err != nil {
		t.Fatalf("GetBalance(patient): %v", err)
	}
	if err := db.Exec("DELETE FROM account_balances WHERE id = ?", patientBal.ID).Error; err != nil {
		t.Fatalf("delete balance row: %v", err)
	}
	record, err = svc.Reconcile(ctx, today)
	if err != nil {
		t.Fatalf("Reconcile(orphaned): %v", err)
	}
	if record.Status != models.ReconciliationStatusIssuesDetected {
		t.Fatalf("status = %s, want ISSUES_DETECTED", record.Status)
	}
	if len(record.Issues) != 1 {
		t.Fatalf("issues = %v, want exactly one", record.Issues)
	}
	if !strings.Contains(record.Issues[0], fmt.Sprintf("account %d", patientBal.ID)) ||
		!strings.Contains(record.Issues[0], "balance row missing") {
		t.Fatalf("issue entry does not name the orphaned account: %q", record.Issues[0])
	}
	for _, a := range record.DiscrepancyAlerts {
		if a.AccountId == patientBal.ID {
			t.Fatalf("orphaned account must not get a discrepancy alert: %+v", a)
		}
	}
}

func TestReconcileSnapshotUnderConcurrentPostings(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	platform := models.AccountRef{Kind: models.AccountKindPlatform, OwnerId: "carebook"}
	if _, _, err := svc.Apply(ctx, ledger.ApplyInput{
		Account: platform,
		Amount:  mustDec(t, "10.00"),
		Type:    models.TransactionTypePaymentReceived,
		Actor:   "payment-gateway",
	}); err != nil {
		t.Fatalf("seed Apply: %v", err)
	}

	// Keep the ledger moving while reconciliation runs. Every committed
	// posting writes the balance and its transaction atomically, so a run
	// reading one consistent snapshot can never see them disagree.
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stop:
				done <- nil
				return
			default:
			}
			if _, _, err := svc.Apply(ctx, ledger.ApplyInput{
				Account: platform,
				Amount:  mustDec(t, "1.00"),
				Type:    models.TransactionTypeServiceCharge,
				Actor:   "payment-gateway",
			}); err != nil {
				done <- err
				return
			}
		}
	}()

	today := time.Now().UTC()
	for i := 0; i < 10; i++ {
		record, err := svc.Reconcile(ctx, today)
		if err != nil {
			t.Fatalf("Reconcile run %d: %v", i, err)
		}
		if record.Status != models.ReconciliationStatusReconciled {
			t.Fatalf("run %d: status = %s with %d discrepancies on a consistent ledger (summary: %s)",
				i, record.Status, record.DiscrepancyCount, record.Summary)
		}
	}

	close(stop)
	if err := <-done; err != nil {
		t.Fatalf("background Apply: %v", err)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("hospital-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("hospital-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=hospital_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
