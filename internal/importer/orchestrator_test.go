package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crm-import-service/internal/lock"
	"crm-import-service/internal/models"
	"crm-import-service/internal/store"
	"crm-import-service/pkg/errors"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func newOrchestrator(s store.Store, opts Options) *Orchestrator {
	opts.Store = s
	if opts.Command == "" {
		opts.Command = "test"
	}
	opts.Now = func() time.Time { return fixedNow }
	return NewOrchestrator(opts)
}

// fakeLocker records acquisitions and can refuse them.
type fakeLocker struct {
	held     bool
	refuse   bool
	acquired []string
	released int
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (lock.Release, error) {
	if l.refuse || l.held {
		return nil, errors.LockUnavailable(key, nil)
	}
	l.held = true
	l.acquired = append(l.acquired, key)
	return func(context.Context) error {
		l.held = false
		l.released++
		return nil
	}, nil
}

func (l *fakeLocker) Close() error { return nil }

func createCustomer(name string) Job {
	return func(ctx context.Context, run *Run) error {
		return run.Tx.CreateCustomer(ctx, &models.Customer{Name: name})
	}
}

func TestExecuteCommits(t *testing.T) {
	s := store.NewMemoryStore()
	summary, err := newOrchestrator(s, Options{}).Execute(context.Background(), createCustomer("Acme"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary == nil || summary.DryRun {
		t.Fatalf("expected a real-run summary, got %+v", summary)
	}
	if n := len(s.Customers()); n != 1 {
		t.Errorf("expected 1 committed customer, got %d", n)
	}
}

func TestExecuteDryRunRollsBack(t *testing.T) {
	s := store.NewMemoryStore()
	summary, err := newOrchestrator(s, Options{DryRun: true}).Execute(context.Background(), func(ctx context.Context, run *Run) error {
		if !run.DryRun {
			t.Error("expected job to see dry run")
		}
		if err := createCustomer("Acme")(ctx, run); err != nil {
			return err
		}
		run.Summary.Add("created", "Customers created", 1)
		return nil
	})
	if err != nil {
		t.Fatalf("expected dry run to succeed, got %v", err)
	}
	if !summary.DryRun || summary.Value("created") != 1 {
		t.Errorf("expected dry-run summary with created=1, got %+v", summary)
	}
	if n := len(s.Customers()); n != 0 {
		t.Errorf("expected dry run to leave the store untouched, got %d customers", n)
	}
}

func TestExecuteFailureRollsBack(t *testing.T) {
	s := store.NewMemoryStore()
	summary, err := newOrchestrator(s, Options{}).Execute(context.Background(), func(ctx context.Context, run *Run) error {
		if err := createCustomer("Acme")(ctx, run); err != nil {
			return err
		}
		run.Summary.Add("created", "Customers created", 1)
		return errors.PersistenceFailure("create invoice", fmt.Errorf("disk full"))
	})

	if !errors.HasCode(err, errors.CodePersistenceFailure) {
		t.Fatalf("expected persistence_failure, got %v", err)
	}
	if summary == nil || summary.Value("created") != 1 {
		t.Errorf("expected partial summary to be returned, got %+v", summary)
	}
	if n := len(s.Customers()); n != 0 {
		t.Errorf("expected failed run to be rolled back, got %d customers", n)
	}
}

func TestExecuteWrapsPlainErrors(t *testing.T) {
	_, err := newOrchestrator(store.NewMemoryStore(), Options{}).Execute(context.Background(), func(context.Context, *Run) error {
		return fmt.Errorf("boom")
	})
	if !errors.HasCode(err, errors.CodeUnexpectedError) {
		t.Errorf("expected unexpected_error, got %v", err)
	}
}

func TestExecuteLock(t *testing.T) {
	t.Run("held", func(t *testing.T) {
		locker := &fakeLocker{refuse: true}
		called := false
		_, err := newOrchestrator(store.NewMemoryStore(), Options{Locker: locker}).Execute(context.Background(), func(context.Context, *Run) error {
			called = true
			return nil
		})
		if !errors.HasCode(err, errors.CodeLockUnavailable) {
			t.Errorf("expected lock_unavailable, got %v", err)
		}
		if called {
			t.Error("expected job not to run without the lock")
		}
	})

	t.Run("released", func(t *testing.T) {
		locker := &fakeLocker{}
		o := newOrchestrator(store.NewMemoryStore(), Options{Command: "import-payments", Locker: locker})
		o.Execute(context.Background(), func(context.Context, *Run) error { return fmt.Errorf("boom") })

		if len(locker.acquired) != 1 || locker.acquired[0] != "crm-import:import-payments" {
			t.Errorf("expected lock crm-import:import-payments, got %v", locker.acquired)
		}
		if locker.released != 1 || locker.held {
			t.Errorf("expected lock released after a failed run, released=%d", locker.released)
		}
	})
}

func TestExecuteProgress(t *testing.T) {
	o := newOrchestrator(store.NewMemoryStore(), Options{})
	var steps []string
	var last Progress
	o.AddProgressCallback(func(p *Progress) {
		steps = append(steps, p.CurrentStep)
		last = *p
	})

	if _, err := o.Execute(context.Background(), func(context.Context, *Run) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"Acquiring import lock", "Importing", "Committing", "Completed"}
	if strings.Join(steps, ",") != strings.Join(expected, ",") {
		t.Errorf("expected steps %v, got %v", expected, steps)
	}
	if last.PercentComplete != 100 || last.CompletedSteps != last.TotalSteps {
		t.Errorf("expected completed progress, got %+v", last)
	}
	if o.CurrentProgress().CurrentStep != "Completed" {
		t.Errorf("expected current step Completed, got %s", o.CurrentProgress().CurrentStep)
	}
}

func TestExecuteAmountCoercion(t *testing.T) {
	job := func(_ context.Context, run *Run) error {
		_, err := run.Amounts.Amount("12abc")
		return err
	}

	t.Run("lenient", func(t *testing.T) {
		summary, err := newOrchestrator(store.NewMemoryStore(), Options{}).Execute(context.Background(), job)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(summary.Warnings) != 1 || !strings.Contains(summary.Warnings[0], `non-numeric amount "12abc" read as 12`) {
			t.Errorf("expected coercion warning, got %v", summary.Warnings)
		}
	})

	t.Run("strict", func(t *testing.T) {
		_, err := newOrchestrator(store.NewMemoryStore(), Options{StrictAmounts: true}).Execute(context.Background(), job)
		if !errors.HasCode(err, errors.CodeInvalidAmount) {
			t.Errorf("expected invalid_amount, got %v", err)
		}
	})
}

func TestExecuteDiagnosticLimit(t *testing.T) {
	job := func(_ context.Context, run *Run) error {
		for i := 0; i < 7; i++ {
			run.Sink.Report(errors.UnresolvedEntity("account", fmt.Sprintf("Account %d", i)))
		}
		return nil
	}
	summary, err := newOrchestrator(store.NewMemoryStore(), Options{DiagnosticLimit: 5}).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.Warnings) != 5 || summary.Suppressed != 2 {
		t.Errorf("expected 5 warnings and 2 suppressed, got %d and %d", len(summary.Warnings), summary.Suppressed)
	}
	if summary.DiagnosticCodes[errors.CodeUnresolvedEntity] != 5 {
		t.Errorf("expected 5 unresolved_entity diagnostics, got %v", summary.DiagnosticCodes)
	}
}

func TestExecuteWithoutStore(t *testing.T) {
	_, err := NewOrchestrator(Options{}).Execute(context.Background(), func(context.Context, *Run) error { return nil })
	if !errors.HasCode(err, errors.CodeUnexpectedError) {
		t.Errorf("expected unexpected_error, got %v", err)
	}
}
