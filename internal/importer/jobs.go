package importer

import (
	"context"

	"crm-import-service/internal/invoiceplane"
	"crm-import-service/internal/invoices"
	"crm-import-service/internal/ledger"
	"crm-import-service/internal/payments"
	"crm-import-service/internal/resolver"
	"crm-import-service/pkg/logger"
)

// LedgerJob updates account balances from the general ledger report and
// imports the journal report. Either path may be empty, not both.
func LedgerJob(ledgerPath, journalPath string) Job {
	return func(ctx context.Context, run *Run) error {
		accounts, err := resolver.LoadAccountResolver(ctx, run.Tx)
		if err != nil {
			return err
		}
		systemUserID, err := run.Tx.ResolveSystemUserID(ctx)
		if err != nil {
			return err
		}

		im := ledger.NewImporter(run.Tx, accounts, ledger.Options{
			DryRun:       run.DryRun,
			SystemUserID: systemUserID,
			Amounts:      run.Amounts,
			Sink:         run.Sink,
			Logger:       run.Logger,
			Now:          run.Now,
		})

		var balances ledger.BalanceStats
		if ledgerPath != "" {
			err := logger.TimedPass(run.Logger, "ledger balances", ledgerPath, func() (err error) {
				balances, err = im.ImportBalances(ctx, ledgerPath)
				return err
			})
			if err != nil {
				return err
			}
		}
		var journal ledger.JournalStats
		if journalPath != "" {
			err := logger.TimedPass(run.Logger, "journal entries", journalPath, func() (err error) {
				journal, err = im.ImportJournal(ctx, journalPath)
				return err
			})
			if err != nil {
				return err
			}
		}

		run.Summary.Add("balances", "Ledger balances updated", balances.Updated)
		run.Summary.Add("balances_skipped", "Ledger totals skipped", balances.Skipped)
		run.Summary.Add("created", "Journal entries created", journal.Created)
		run.Summary.Add("skipped", "Journal entries skipped", journal.Skipped)
		run.Summary.Add("lines", "Journal lines created", journal.Lines)
		run.Summary.Unresolved = accounts.Unresolved()
		return nil
	}
}

// BackfillJob replaces invoice items from a sales detail report. summaryPath
// is optional; only limits the run to the given QuickBooks invoice numbers.
func BackfillJob(source, summaryPath string, only []string) Job {
	return func(ctx context.Context, run *Run) error {
		var summaries map[string]invoices.Summary
		if summaryPath != "" {
			loaded, err := invoices.LoadSummaries(ctx, summaryPath, run.Amounts, run.Logger)
			if err != nil {
				return err
			}
			summaries = loaded
		}

		backfiller := invoices.NewBackfiller(run.Tx, invoices.Options{
			DryRun:    run.DryRun,
			Only:      only,
			Summaries: summaries,
			Amounts:   run.Amounts,
			Sink:      run.Sink,
			Logger:    run.Logger,
			Now:       run.Now,
		})
		var stats invoices.Stats
		err := logger.TimedPass(run.Logger, "invoice items", source, func() (err error) {
			stats, err = backfiller.Backfill(ctx, source)
			return err
		})
		if err != nil {
			return err
		}

		run.Summary.Add("processed", "Processed invoices", stats.Processed)
		run.Summary.Add("created", "Invoices created", stats.Created)
		run.Summary.Add("updated", "Invoices updated", stats.Updated)
		run.Summary.Add("skipped_missing_invoice", "Missing invoices", stats.SkippedMissingInvoice)
		run.Summary.Add("zero_amount", "Zero amount detail", stats.ZeroAmount)
		return nil
	}
}

// PaymentsJob applies the payments of a customer transaction report.
func PaymentsJob(source string) Job {
	return func(ctx context.Context, run *Run) error {
		im := payments.NewImporter(run.Tx, payments.Options{
			DryRun:  run.DryRun,
			Amounts: run.Amounts,
			Sink:    run.Sink,
			Logger:  run.Logger,
			Now:     run.Now,
		})
		var stats payments.Stats
		err := logger.TimedPass(run.Logger, "payments", source, func() (err error) {
			stats, err = im.Import(ctx, source)
			return err
		})
		if err != nil {
			return err
		}

		run.Summary.Add("created", "Created payments", stats.Created)
		run.Summary.Add("skipped", "Skipped rows", stats.Skipped)
		return nil
	}
}

// InvoicePlaneJob imports customers, quotes and invoices from an InvoicePlane
// export. only selects sections; empty means all.
func InvoicePlaneJob(source string, only []string) Job {
	return func(ctx context.Context, run *Run) error {
		im := invoiceplane.NewImporter(run.Tx, invoiceplane.Options{
			DryRun:  run.DryRun,
			Only:    only,
			Amounts: run.Amounts,
			Sink:    run.Sink,
			Logger:  run.Logger,
			Now:     run.Now,
		})
		var stats invoiceplane.Stats
		err := logger.TimedPass(run.Logger, "invoiceplane export", source, func() (err error) {
			stats, err = im.Import(ctx, source)
			return err
		})
		if err != nil {
			return err
		}

		run.Summary.Add("customers_created", "Customers created", stats.CustomersCreated)
		run.Summary.Add("customers_matched", "Customers matched", stats.CustomersMatched)
		run.Summary.Add("quotes_created", "Quotes created", stats.QuotesCreated)
		run.Summary.Add("quotes_skipped", "Quotes already present", stats.QuotesSkipped)
		run.Summary.Add("invoices_created", "Invoices created", stats.InvoicesCreated)
		run.Summary.Add("invoices_skipped", "Invoices already present", stats.InvoicesSkipped)
		run.Summary.Add("items", "Items created", stats.Items)
		run.Summary.Add("unmapped", "Documents without customer", stats.Unmapped)
		return nil
	}
}
