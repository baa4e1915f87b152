package ledger

import (
	"context"
	"strings"
	"time"

	"crm-import-service/internal/models"
	"crm-import-service/internal/parsers"
	"crm-import-service/internal/reporter"
	"crm-import-service/internal/resolver"
	"crm-import-service/internal/store"
	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

const defaultDescription = "QuickBooks Import"

// Options configures an Importer.
type Options struct {
	DryRun       bool
	SystemUserID *int
	Amounts      parsers.AmountParser
	Sink         reporter.Sink
	Logger       logger.Logger
	Now          func() time.Time
	Token        func() string
}

// JournalStats counts the outcome of a journal pass.
type JournalStats struct {
	Created int
	Skipped int
	Lines   int
}

// BalanceStats counts the outcome of a general-ledger balance pass.
type BalanceStats struct {
	Updated int
	Skipped int
}

// Importer runs the journal and balance passes against one store, usually
// the transaction handle of a single run.
type Importer struct {
	store    store.Store
	accounts *resolver.AccountResolver
	opts     Options
	logger   logger.Logger

	// references written (or, in dry run, that would have been written)
	// during this run
	created map[string]bool
}

// NewImporter creates an importer. accounts must already be loaded.
func NewImporter(s store.Store, accounts *resolver.AccountResolver, opts Options) *Importer {
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobalLogger()
	}
	if opts.Sink == nil {
		opts.Sink = reporter.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Importer{
		store:    s,
		accounts: accounts,
		opts:     opts,
		logger:   opts.Logger.WithComponent("ledger").WithField("dry_run", opts.DryRun),
		created:  make(map[string]bool),
	}
}

// ImportJournal groups the rows of a journal report into entries and writes
// every balanced group that is not already present.
func (im *Importer) ImportJournal(ctx context.Context, path string) (JournalStats, error) {
	var stats JournalStats

	reader, err := parsers.OpenWithOptions(path, parsers.Options{Logger: im.opts.Logger})
	if err != nil {
		return stats, err
	}
	defer reader.Close()

	grouper := NewGrouper(im.accounts.Resolve)
	grouper.Now = im.opts.Now
	if im.opts.Token != nil {
		grouper.Token = im.opts.Token
	}

	progress := logger.NewProgressTracker(logger.ProgressConfig{Operation: "journal import", Logger: im.logger})

	err = reader.Each(func(row parsers.Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress.Increment()

		jr, err := im.journalRow(reader.Path(), row)
		if err != nil {
			return err
		}
		closed := grouper.Observe(jr)
		if jr.HasTrans {
			im.logger.WithField("line", row.Line).Debugf("Processing transaction %s", jr.TransNumber)
		}
		if closed != nil {
			return im.flush(ctx, closed, &stats)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	if last := grouper.Flush(); last != nil {
		if err := im.flush(ctx, last, &stats); err != nil {
			return stats, err
		}
	}

	progress.Complete()
	im.logger.WithFields(logger.Fields{
		"created": stats.Created,
		"skipped": stats.Skipped,
		"lines":   stats.Lines,
	}).Info("Journal pass finished")
	return stats, nil
}

func (im *Importer) journalRow(path string, row parsers.Row) (JournalRow, error) {
	debit, err := im.opts.Amounts.Amount(row.Value("debit"))
	if err != nil {
		return JournalRow{}, errors.AtLine(err, path, row.Line)
	}
	credit, err := im.opts.Amounts.Amount(row.Value("credit"))
	if err != nil {
		return JournalRow{}, errors.AtLine(err, path, row.Line)
	}

	trans, hasTrans := row.Get("trans#")
	return JournalRow{
		TransNumber: trans,
		HasTrans:    hasTrans,
		Type:        row.Value("type"),
		Num:         row.Value("num"),
		Date:        row.Value("date"),
		Account:     row.Value("account"),
		Name:        row.Value("name"),
		Memo:        row.Value("memo"),
		Debit:       debit,
		Credit:      credit,
	}, nil
}

func (im *Importer) flush(ctx context.Context, group *Group, stats *JournalStats) error {
	log := im.logger.WithField("reference", group.Reference)

	exists := im.created[group.Reference]
	if !exists {
		found, err := im.store.JournalEntryExists(ctx, group.Reference)
		if err != nil {
			return err
		}
		exists = found
	}
	if exists {
		log.Debug("Journal entry already imported")
		stats.Skipped++
		return nil
	}

	lines := Collapse(group.Lines)
	if len(lines) == 0 {
		log.Debug("Skipping entry with no valid lines")
		stats.Skipped++
		return nil
	}

	debits, credits := Totals(lines)
	if !Balanced(debits, credits) {
		im.opts.Sink.Report(errors.ImbalancedGroup(group.Reference, debits, credits))
		stats.Skipped++
		return nil
	}

	if !im.opts.DryRun {
		entry := &models.JournalEntry{
			EntryNumber: group.Reference,
			EntryDate:   group.Date,
			Description: group.Description,
			Status:      models.JournalStatusPosted,
			Memo:        group.Memo,
			CreatedBy:   im.opts.SystemUserID,
		}
		if entry.Description == "" {
			entry.Description = defaultDescription
		}
		for _, line := range lines {
			entry.Lines = append(entry.Lines, models.JournalEntryLine{
				AccountID: line.AccountID,
				Debit:     line.Debit,
				Credit:    line.Credit,
			})
		}
		if err := im.store.CreateJournalEntry(ctx, entry); err != nil {
			return err
		}
	}

	im.created[group.Reference] = true
	stats.Created++
	stats.Lines += len(lines)
	return nil
}

// ImportBalances reads a general-ledger report and stores each account's
// closing total as its current balance.
func (im *Importer) ImportBalances(ctx context.Context, path string) (BalanceStats, error) {
	var stats BalanceStats

	reader, err := parsers.OpenWithOptions(path, parsers.Options{Positional: true, Logger: im.opts.Logger})
	if err != nil {
		return stats, err
	}
	defer reader.Close()

	var current string
	err = reader.Each(func(row parsers.Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		name, _ := row.Cell(0)
		if name == "" {
			return nil
		}
		if !strings.HasPrefix(strings.ToLower(name), "total ") {
			current = name
			return nil
		}
		if current == "" {
			stats.Skipped++
			return nil
		}

		balance, err := im.opts.Amounts.Amount(closingBalance(row))
		if err != nil {
			return errors.AtLine(err, reader.Path(), row.Line)
		}

		accountID, ok := im.accounts.Resolve(current)
		current = ""
		if !ok {
			stats.Skipped++
			return nil
		}

		if !im.opts.DryRun {
			if err := im.store.UpdateAccountBalance(ctx, accountID, balance); err != nil {
				return err
			}
		}
		im.logger.WithFields(logger.Fields{
			"account_id": accountID,
			"balance":    balance.StringFixed(2),
		}).Debug("Account balance updated")
		stats.Updated++
		return nil
	})
	if err != nil {
		return stats, err
	}

	im.logger.WithFields(logger.Fields{
		"updated": stats.Updated,
		"skipped": stats.Skipped,
	}).Info("Balance pass finished")
	return stats, nil
}

// closingBalance returns the first column present among 9, 8 and 7. A column
// that exists but is blank still wins and parses as zero.
func closingBalance(row parsers.Row) string {
	for _, i := range []int{9, 8, 7} {
		if cell, ok := row.Cell(i); ok {
			return cell
		}
	}
	return ""
}
