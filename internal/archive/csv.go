package archive

import (
	"encoding/csv"
	"io"

	"github.com/freelance-manager/freelance-api/internal/finance"
)

// NotAttached marks records without a source document.
const NotAttached = "not-attached"

const csvDateLayout = "Mon Jan 02 2006"

var (
	expenseHeader = []string{"Expense name:", "Expense date:", "Expense payment:", "Expense file:"}
	invoiceHeader = []string{"Invoice project:", "Invoice date:", "Invoice payment:", "Invoice file:"}
)

// WriteExpensesCSV serialises expenses with one row per record.
func WriteExpensesCSV(w io.Writer, records []finance.Record) error {
	return writeRecords(w, expenseHeader, records)
}

// WriteInvoicesCSV serialises invoices with one row per record.
func WriteInvoicesCSV(w io.Writer, records []finance.Record) error {
	return writeRecords(w, invoiceHeader, records)
}

func writeRecords(w io.Writer, header []string, records []finance.Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		file := rec.AttachedFile
		if file == "" {
			file = NotAttached
		}
		if err := writer.Write([]string{
			rec.Title,
			rec.OccurredOn.Format(csvDateLayout),
			rec.Amount.String(),
			file,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
