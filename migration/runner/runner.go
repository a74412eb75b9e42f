// Package runner applies ordered SQL migration units against the store,
// tracking executed units in a ledger table grouped by batch. Units applied
// in one invocation share a batch number; rollback reverts the most recent
// batch in reverse application order.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ErrDeclined is returned when the operator declines the confirmation
// prompt. No mutation has happened when it is returned.
var ErrDeclined = errors.New("migration confirmation declined")

// ErrMissingDown is returned when a rollback needs a reverse definition
// that does not exist.
var ErrMissingDown = errors.New("missing down migration")

// Record is a ledger entry proving a unit ran.
type Record struct {
	ID    int64
	Name  string
	Batch int
}

// LedgerStore persists the migration ledger and executes units against the
// store. ApplyUnit and RevertUnit are transactional per unit: a mid-unit
// failure leaves that unit's partial change rolled back.
type LedgerStore interface {
	// Ensure creates the ledger table if it does not exist. A missing
	// table counts as zero executed records.
	Ensure(ctx context.Context) error
	// AppliedNames returns the set of executed unit names.
	AppliedNames(ctx context.Context) (map[string]struct{}, error)
	// LastBatch returns the highest batch number, or 0 when the ledger is
	// empty.
	LastBatch(ctx context.Context) (int, error)
	// BatchRecords returns the records of one batch in descending id
	// order (reverse application order).
	BatchRecords(ctx context.Context, batch int) ([]Record, error)
	// ApplyUnit executes the unit's forward SQL and appends its record in
	// a single transaction.
	ApplyUnit(ctx context.Context, unit *Unit, batch int) error
	// RevertUnit executes the unit's reverse SQL and deletes its record
	// in a single transaction.
	RevertUnit(ctx context.Context, unit *Unit, rec Record) error
}

// ConfirmFunc decides whether the listed unit names may be applied or
// rolled back. Returning false aborts with no side effects.
type ConfirmFunc func(names []string, batch int) (bool, error)

// Runner coordinates discovery, diffing, confirmation and execution.
type Runner struct {
	ledger   LedgerStore
	provider UnitProvider
	confirm  ConfirmFunc
	logger   *slog.Logger
}

// New creates a runner. Without a confirmation callback the runner proceeds
// unprompted, which is the forced mode.
func New(ledger LedgerStore, provider UnitProvider) *Runner {
	return &Runner{
		ledger:   ledger,
		provider: provider,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the runner.
func (r *Runner) WithLogger(l *slog.Logger) *Runner {
	tmp := *r
	tmp.logger = l
	return &tmp
}

// WithConfirm sets the confirmation callback for the runner.
func (r *Runner) WithConfirm(confirm ConfirmFunc) *Runner {
	tmp := *r
	tmp.confirm = confirm
	return &tmp
}

// Pending returns the units present on disk but absent from the ledger, in
// application order.
func (r *Runner) Pending(ctx context.Context) ([]*Unit, error) {
	if err := r.ledger.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize migration ledger: %w", err)
	}

	applied, err := r.ledger.AppliedNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}

	var pending []*Unit
	for _, unit := range r.provider.Units() {
		if _, ok := applied[unit.Name]; !ok {
			pending = append(pending, unit)
		}
	}
	return pending, nil
}

// Up applies every pending unit in discovery order. All units applied in
// this invocation share one batch number, 1 + the highest existing batch.
// The first failing unit aborts the run; units already recorded in this
// batch stay recorded.
func (r *Runner) Up(ctx context.Context) error {
	pending, err := r.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		r.logger.Info("No pending migrations")
		return nil
	}

	lastBatch, err := r.ledger.LastBatch(ctx)
	if err != nil {
		return fmt.Errorf("failed to read last batch: %w", err)
	}
	batch := lastBatch + 1

	if r.confirm != nil {
		ok, err := r.confirm(unitNames(pending), batch)
		if err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
		if !ok {
			return ErrDeclined
		}
	}

	r.logger.Info("Applying migrations", "count", len(pending), "batch", batch)

	for _, unit := range pending {
		r.logger.Info("Applying migration", "name", unit.Name, "batch", batch)
		if err := r.ledger.ApplyUnit(ctx, unit, batch); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", unit.Name, err)
		}
		r.logger.Info("Applied migration", "name", unit.Name)
	}

	r.logger.Info("All migrations applied", "batch", batch)
	return nil
}

// Rollback reverts the most recent batch in reverse application order.
// Every unit in the batch must still have its reverse definition before any
// reversal executes; a missing one aborts with zero records removed. A
// failure mid-rollback aborts immediately, leaving the remaining records in
// place, and the store should be inspected by hand.
func (r *Runner) Rollback(ctx context.Context) error {
	if err := r.ledger.Ensure(ctx); err != nil {
		return fmt.Errorf("failed to initialize migration ledger: %w", err)
	}

	batch, err := r.ledger.LastBatch(ctx)
	if err != nil {
		return fmt.Errorf("failed to read last batch: %w", err)
	}
	if batch == 0 {
		r.logger.Info("No migrations to roll back")
		return nil
	}

	records, err := r.ledger.BatchRecords(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to read batch %d: %w", batch, err)
	}
	if len(records) == 0 {
		r.logger.Info("No migrations to roll back")
		return nil
	}

	units := make(map[string]*Unit, len(r.provider.Units()))
	for _, unit := range r.provider.Units() {
		units[unit.Name] = unit
	}

	// Validate the whole batch before touching anything.
	for _, rec := range records {
		unit, ok := units[rec.Name]
		if !ok {
			return fmt.Errorf("%w: migration file for %s no longer exists", ErrMissingDown, rec.Name)
		}
		if !unit.HasDown() {
			return fmt.Errorf("%w: %s", ErrMissingDown, rec.Name)
		}
	}

	if r.confirm != nil {
		ok, err := r.confirm(recordNames(records), batch)
		if err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
		if !ok {
			return ErrDeclined
		}
	}

	r.logger.Info("Rolling back migrations", "count", len(records), "batch", batch)

	for _, rec := range records {
		r.logger.Info("Rolling back migration", "name", rec.Name)
		if err := r.ledger.RevertUnit(ctx, units[rec.Name], rec); err != nil {
			return fmt.Errorf("failed to roll back migration %s (database may be inconsistent): %w", rec.Name, err)
		}
		r.logger.Info("Rolled back migration", "name", rec.Name)
	}

	r.logger.Info("Batch rolled back", "batch", batch)
	return nil
}

func unitNames(units []*Unit) []string {
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Name
	}
	return names
}

func recordNames(records []Record) []string {
	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.Name
	}
	return names
}

// TerminalConfirm returns a confirmation callback that lists the units and
// reads a y/N answer from in. Anything other than "y" declines.
func TerminalConfirm(in io.Reader, out io.Writer) ConfirmFunc {
	return func(names []string, batch int) (bool, error) {
		fmt.Fprintf(out, "\nThe following migrations are part of batch %d:\n", batch)
		fmt.Fprintln(out, strings.Repeat("-", 42))
		for _, name := range names {
			fmt.Fprintf(out, "- %s\n", name)
		}
		fmt.Fprintln(out, strings.Repeat("-", 42))
		fmt.Fprint(out, "\nDo you want to continue? (y/N): ")

		reader := bufio.NewReader(in)
		answer, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		return strings.EqualFold(strings.TrimSpace(answer), "y"), nil
	}
}
