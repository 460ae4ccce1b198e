package reports

import (
	"fmt"
	"io"

	"github.com/carebook/hospital_backend/ledger"
	"github.com/carebook/hospital_backend/utils"
	"github.com/xuri/excelize/v2"
)

// The audit export is a record-to-row transform: the ledger hands us typed
// records, we flatten them to tabular rows. The same rows feed the XLSX
// download and any delimited-text consumer.

var transactionHeaders = []string{
	"TransactionId", "AccountId", "Type", "Amount",
	"BalanceBefore", "BalanceAfter", "ExternalRef",
	"Description", "Actor", "CreatedAt",
}

var correctionHeaders = []string{
	"CorrectionId", "AccountId", "Admin", "BalanceBefore",
	"BalanceAfter", "Difference", "Reason", "Evidence",
	"TransactionId", "CreatedAt",
}

func TransactionRows(report *ledger.AuditReport) [][]string {
	rows := make([][]string, 0, len(report.Transactions))
	for _, t := range report.Transactions {
		rows = append(rows, []string{
			fmt.Sprint(t.ID),
			fmt.Sprint(t.AccountId),
			string(t.TransactionType),
			t.Amount.StringFixed(2),
			t.BalanceBefore.StringFixed(2),
			t.BalanceAfter.StringFixed(2),
			utils.DereferencePtr(t.ExternalRef, ""),
			t.Description,
			t.Actor,
			t.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

func CorrectionRows(report *ledger.AuditReport) [][]string {
	rows := make([][]string, 0, len(report.Corrections))
	for _, c := range report.Corrections {
		rows = append(rows, []string{
			fmt.Sprint(c.ID),
			fmt.Sprint(c.AccountId),
			c.AdminName,
			c.BalanceBefore.StringFixed(2),
			c.BalanceAfter.StringFixed(2),
			c.Difference.StringFixed(2),
			c.Reason,
			utils.DereferencePtr(c.Evidence, ""),
			fmt.Sprint(c.TransactionId),
			c.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

// WriteAuditXlsx renders the report as a two-sheet workbook, one sheet for
// transactions and one for corrections.
func WriteAuditXlsx(w io.Writer, report *ledger.AuditReport) error {
	f := excelize.NewFile()
	defer f.Close()

	const txnSheet = "Transactions"
	const corrSheet = "Corrections"

	if err := f.SetSheetName("Sheet1", txnSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(corrSheet); err != nil {
		return err
	}

	if err := writeSheet(f, txnSheet, transactionHeaders, TransactionRows(report)); err != nil {
		return err
	}
	if err := writeSheet(f, corrSheet, correctionHeaders, CorrectionRows(report)); err != nil {
		return err
	}

	return f.Write(w)
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]string) error {
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for i, row := range rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}
