package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/carebook/hospital_backend/config"
	"github.com/carebook/hospital_backend/ledger"
	"github.com/carebook/hospital_backend/models"
	"github.com/carebook/hospital_backend/models/reports"
	"github.com/carebook/hospital_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const latestHealthCheckCacheKey = "finance:healthcheck:latest"

// statusForLedgerError maps the typed ledger errors onto HTTP statuses so the
// operator console can distinguish validation from conflict from timeout.
func statusForLedgerError(err error) int {
	var invalidType *ledger.InvalidTransactionTypeError
	var invalidAmount *ledger.InvalidAmountError
	var stale *ledger.StaleBalanceError
	var dup *ledger.DuplicateExternalRefError
	switch {
	case errors.As(err, &invalidType), errors.As(err, &invalidAmount), errors.Is(err, ledger.ErrInvalidAccountRef):
		return http.StatusBadRequest
	case errors.As(err, &stale), errors.As(err, &dup), errors.Is(err, ledger.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrPersistenceTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func abortWithLedgerError(c *gin.Context, err error) {
	status := statusForLedgerError(err)
	if status >= http.StatusInternalServerError {
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(config.GetLogger(), "handlers", c.FullPath(), cid, nil, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		}
		return false
	}
	return true
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if !bindJSON(c, &req) {
			return
		}
		token, op, err := models.LoginOperator(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":    token,
			"operator": gin.H{"id": op.ID, "name": op.Name, "role": op.Role},
		})
	}
}

type applyRequest struct {
	AccountKind string  `json:"account_kind" binding:"required"`
	OwnerId     string  `json:"owner_id" binding:"required"`
	Amount      string  `json:"amount" binding:"required"`
	Type        string  `json:"type" binding:"required"`
	ExternalRef *string `json:"external_ref"`
	Description string  `json:"description"`
}

func applyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req applyRequest
		if !bindJSON(c, &req) {
			return
		}
		amount, err := utils.ParseDecimal(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount: " + err.Error()})
			return
		}
		actor, _ := utils.GetOperatorNameFromContext(c.Request.Context())

		bal, txn, err := ledgerService.Apply(c.Request.Context(), ledger.ApplyInput{
			Account:     models.AccountRef{Kind: models.AccountKind(req.AccountKind), OwnerId: req.OwnerId},
			Amount:      amount,
			Type:        models.TransactionType(req.Type),
			ExternalRef: req.ExternalRef,
			Description: req.Description,
			Actor:       actor,
		})
		if err != nil {
			abortWithLedgerError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal, "transaction": txn})
	}
}

func balanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := models.AccountRef{
			Kind:    models.AccountKind(c.Param("kind")),
			OwnerId: c.Param("owner"),
		}
		bal, err := ledgerService.GetBalance(c.Request.Context(), ref)
		if err != nil {
			abortWithLedgerError(c, err)
			return
		}
		c.JSON(http.StatusOK, bal)
	}
}

type reconcileRequest struct {
	Date string `json:"date"` // YYYY-MM-DD; defaults to today (UTC)
}

func reconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reconcileRequest
		if !bindJSON(c, &req) {
			return
		}
		date := time.Now().UTC()
		if req.Date != "" {
			var err error
			date, err = utils.ParseDate(req.Date)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
				return
			}
		}
		record, err := ledgerService.Reconcile(c.Request.Context(), date)
		if err != nil {
			abortWithLedgerError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func listDiscrepanciesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *models.DiscrepancyStatus
		var severity *models.DiscrepancySeverity
		if v := c.Query("status"); v != "" {
			s := models.DiscrepancyStatus(v)
			status = &s
		}
		if v := c.Query("severity"); v != "" {
			s := models.DiscrepancySeverity(v)
			severity = &s
		}
		alerts, err := ledgerService.ListAlerts(c.Request.Context(), status, severity)
		if err != nil {
			abortWithLedgerError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"discrepancies": alerts})
	}
}

type closeAlertRequest struct {
	Notes string `json:"notes" binding:"required"`
}

func resolveDiscrepancyHandler() gin.HandlerFunc {
	return closeAlertHandler(func(c *gin.Context, id int, resolver, notes string) (*models.DiscrepancyAlert, error) {
		return ledgerService.ResolveAlert(c.Request.Context(), id, resolver, notes)
	})
}

func ignoreDiscrepancyHandler() gin.HandlerFunc {
	return closeAlertHandler(func(c *gin.Context, id int, resolver, notes string) (*models.DiscrepancyAlert, error) {
		return ledgerService.IgnoreAlert(c.Request.Context(), id, resolver, notes)
	})
}

func closeAlertHandler(close func(c *gin.Context, id int, resolver, notes string) (*models.DiscrepancyAlert, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}
		var req closeAlertRequest
		if !bindJSON(c, &req) {
			return
		}
		resolver, _ := utils.GetOperatorNameFromContext(c.Request.Context())
		alert, err := close(c, id, resolver, req.Notes)
		if err != nil {
			abortWithLedgerError(c, err)
			return
		}
		c.JSON(http.StatusOK, alert)
	}
}

type correctionRequest struct {
	AccountKind           string  `json:"account_kind" binding:"required"`
	OwnerId               string  `json:"owner_id" binding:"required"`
	ClaimedCurrentBalance string  `json:"claimed_current_balance" binding:"required"`
	TargetBalance         string  `json:"target_balance" binding:"required"`
	Reason                string  `json:"reason" binding:"required"`
	Evidence              *string `json:"evidence"`
}

func correctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req correctionRequest
		if !bindJSON(c, &req) {
			return
		}
		claimed, err := utils.ParseDecimal(req.ClaimedCurrentBalance)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid claimed_current_balance: " + err.Error()})
			return
		}
		target, err := utils.ParseDecimal(req.TargetBalance)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target_balance: " + err.Error()})
			return
		}

		ctx := c.Request.Context()
		adminId, _ := utils.GetOperatorIdFromContext(ctx)
		adminName, _ := utils.GetOperatorNameFromContext(ctx)

		correction, err := ledgerService.Correct(ctx, ledger.CorrectionInput{
			Account:               models.AccountRef{Kind: models.AccountKind(req.AccountKind), OwnerId: req.OwnerId},
			ClaimedCurrentBalance: claimed,
			TargetBalance:         target,
			Reason:                req.Reason,
			Evidence:              req.Evidence,
			AdminId:               adminId,
			AdminName:             adminName,
		})
		if err != nil {
			abortWithLedgerError(c, err)
			return
		}
		c.JSON(http.StatusOK, correction)
	}
}

func runHealthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		check, err := ledgerService.HealthCheck(c.Request.Context())
		if err != nil {
			abortWithLedgerError(c, err)
			return
		}
		// Cache is best-effort; the row is already durable.
		_ = config.SetRedisObject(latestHealthCheckCacheKey, check, time.Hour)
		c.JSON(http.StatusOK, check)
	}
}

func latestHealthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var cached models.FinancialHealthCheck
		if found, err := config.GetRedisObject(latestHealthCheckCacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, cached)
			return
		}

		var check models.FinancialHealthCheck
		err := config.GetDB().WithContext(c.Request.Context()).
			Order("checked_at DESC, id DESC").
			First(&check).Error
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no health check recorded yet"})
			return
		}
		c.JSON(http.StatusOK, check)
	}
}

func parseAuditRange(c *gin.Context) (time.Time, time.Time, bool) {
	start, err := utils.ParseDate(c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start date, expected YYYY-MM-DD"})
		return time.Time{}, time.Time{}, false
	}
	end, err := utils.ParseDate(c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end date, expected YYYY-MM-DD"})
		return time.Time{}, time.Time{}, false
	}
	return utils.StartOfDay(start), utils.EndOfDay(end), true
}

func auditReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start, end, ok := parseAuditRange(c)
		if !ok {
			return
		}
		report, err := ledgerService.AuditReport(c.Request.Context(), start, end)
		if err != nil {
			abortWithLedgerError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func auditExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start, end, ok := parseAuditRange(c)
		if !ok {
			return
		}
		report, err := ledgerService.AuditReport(c.Request.Context(), start, end)
		if err != nil {
			abortWithLedgerError(c, err)
			return
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=audit-report.xlsx")
		if err := reports.WriteAuditXlsx(c.Writer, report); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write export"})
		}
	}
}
