package models

// TransactionType enumerates every balance-affecting event kind.
type TransactionType string

const (
	TransactionTypePaymentReceived TransactionType = "payment_received"
	TransactionTypeServiceCharge   TransactionType = "service_charge"
	TransactionTypeRefundProcessed TransactionType = "refund_processed"
	TransactionTypeWithdrawal      TransactionType = "withdrawal"
	TransactionTypeAdjustment      TransactionType = "adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePaymentReceived,
		TransactionTypeServiceCharge,
		TransactionTypeRefundProcessed,
		TransactionTypeWithdrawal,
		TransactionTypeAdjustment:
		return true
	}
	return false
}

type AccountKind string

const (
	AccountKindPatient  AccountKind = "patient"
	AccountKindHospital AccountKind = "hospital"
	AccountKindPlatform AccountKind = "platform"
)

func (k AccountKind) Valid() bool {
	switch k {
	case AccountKindPatient, AccountKindHospital, AccountKindPlatform:
		return true
	}
	return false
}

type ReconciliationStatus string

const (
	ReconciliationStatusPending          ReconciliationStatus = "PENDING"
	ReconciliationStatusReconciled       ReconciliationStatus = "RECONCILED"
	ReconciliationStatusDiscrepancyFound ReconciliationStatus = "DISCREPANCY_FOUND"
	ReconciliationStatusIssuesDetected   ReconciliationStatus = "ISSUES_DETECTED"
)

type DiscrepancySeverity string

const (
	DiscrepancySeverityLow    DiscrepancySeverity = "LOW"
	DiscrepancySeverityMedium DiscrepancySeverity = "MEDIUM"
	DiscrepancySeverityHigh   DiscrepancySeverity = "HIGH"
)

type DiscrepancyStatus string

const (
	DiscrepancyStatusOpen     DiscrepancyStatus = "OPEN"
	DiscrepancyStatusResolved DiscrepancyStatus = "RESOLVED"
	DiscrepancyStatusIgnored  DiscrepancyStatus = "IGNORED"
)

type HealthStatus string

const (
	HealthStatusHealthy        HealthStatus = "HEALTHY"
	HealthStatusIssuesDetected HealthStatus = "ISSUES_DETECTED"
)

type OperatorRole string

const (
	OperatorRoleAdmin   OperatorRole = "admin"
	OperatorRoleAuditor OperatorRole = "auditor"
)
