package runner_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	qt "github.com/frankban/quicktest"

	"github.com/dailyfuel/dailyfuel/migration/runner"
)

// fakeLedger is an in-memory LedgerStore recording every mutation.
type fakeLedger struct {
	records  []runner.Record
	nextID   int64
	applyErr map[string]error

	appliedOrder  []string
	revertedOrder []string
}

func newFakeLedger(records ...runner.Record) *fakeLedger {
	var maxID int64
	for _, rec := range records {
		if rec.ID > maxID {
			maxID = rec.ID
		}
	}
	return &fakeLedger{records: records, nextID: maxID}
}

func (f *fakeLedger) Ensure(context.Context) error { return nil }

func (f *fakeLedger) AppliedNames(context.Context) (map[string]struct{}, error) {
	names := make(map[string]struct{}, len(f.records))
	for _, rec := range f.records {
		names[rec.Name] = struct{}{}
	}
	return names, nil
}

func (f *fakeLedger) LastBatch(context.Context) (int, error) {
	last := 0
	for _, rec := range f.records {
		if rec.Batch > last {
			last = rec.Batch
		}
	}
	return last, nil
}

func (f *fakeLedger) BatchRecords(_ context.Context, batch int) ([]runner.Record, error) {
	var out []runner.Record
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].Batch == batch {
			out = append(out, f.records[i])
		}
	}
	return out, nil
}

func (f *fakeLedger) ApplyUnit(_ context.Context, unit *runner.Unit, batch int) error {
	if err := f.applyErr[unit.Name]; err != nil {
		return err
	}
	f.nextID++
	f.records = append(f.records, runner.Record{ID: f.nextID, Name: unit.Name, Batch: batch})
	f.appliedOrder = append(f.appliedOrder, unit.Name)
	return nil
}

func (f *fakeLedger) RevertUnit(_ context.Context, unit *runner.Unit, rec runner.Record) error {
	for i, r := range f.records {
		if r.ID == rec.ID {
			f.records = append(f.records[:i], f.records[i+1:]...)
			break
		}
	}
	f.revertedOrder = append(f.revertedOrder, unit.Name)
	return nil
}

func (f *fakeLedger) names() []string {
	var names []string
	for _, rec := range f.records {
		names = append(names, rec.Name)
	}
	return names
}

func threeUnitFS(withDownC bool) fstest.MapFS {
	fsys := fstest.MapFS{
		"20240101000000_a.up.sql":   {Data: []byte("CREATE TABLE a (id TEXT);")},
		"20240101000000_a.down.sql": {Data: []byte("DROP TABLE a;")},
		"20240102000000_b.up.sql":   {Data: []byte("CREATE TABLE b (id TEXT);")},
		"20240102000000_b.down.sql": {Data: []byte("DROP TABLE b;")},
		"20240103000000_c.up.sql":   {Data: []byte("CREATE TABLE c (id TEXT);")},
	}
	if withDownC {
		fsys["20240103000000_c.down.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE c;")}
	}
	return fsys
}

func TestUp_AssignsNextBatchToPendingOnly(t *testing.T) {
	c := qt.New(t)

	provider, err := runner.NewFSUnitProvider(threeUnitFS(true))
	c.Assert(err, qt.IsNil)

	ledger := newFakeLedger(
		runner.Record{ID: 1, Name: "20240101000000_a", Batch: 1},
		runner.Record{ID: 2, Name: "20240102000000_b", Batch: 1},
	)

	r := runner.New(ledger, provider)
	err = r.Up(context.Background())
	c.Assert(err, qt.IsNil)

	c.Assert(ledger.appliedOrder, qt.DeepEquals, []string{"20240103000000_c"})
	c.Assert(ledger.records[2].Batch, qt.Equals, 2)
}

func TestUp_SecondRunIsNoop(t *testing.T) {
	c := qt.New(t)

	provider, err := runner.NewFSUnitProvider(threeUnitFS(true))
	c.Assert(err, qt.IsNil)

	ledger := newFakeLedger()
	r := runner.New(ledger, provider)

	c.Assert(r.Up(context.Background()), qt.IsNil)
	c.Assert(ledger.appliedOrder, qt.DeepEquals, []string{
		"20240101000000_a", "20240102000000_b", "20240103000000_c",
	})
	for _, rec := range ledger.records {
		c.Assert(rec.Batch, qt.Equals, 1)
	}

	// Second consecutive run performs zero mutations.
	c.Assert(r.Up(context.Background()), qt.IsNil)
	c.Assert(ledger.appliedOrder, qt.HasLen, 3)
}

func TestUp_DeclinedConfirmationHasNoSideEffects(t *testing.T) {
	c := qt.New(t)

	provider, err := runner.NewFSUnitProvider(threeUnitFS(true))
	c.Assert(err, qt.IsNil)

	ledger := newFakeLedger()
	var askedNames []string
	var askedBatch int
	r := runner.New(ledger, provider).WithConfirm(func(names []string, batch int) (bool, error) {
		askedNames = names
		askedBatch = batch
		return false, nil
	})

	err = r.Up(context.Background())
	c.Assert(err, qt.ErrorIs, runner.ErrDeclined)
	c.Assert(ledger.records, qt.HasLen, 0)
	c.Assert(askedBatch, qt.Equals, 1)
	c.Assert(askedNames, qt.DeepEquals, []string{
		"20240101000000_a", "20240102000000_b", "20240103000000_c",
	})
}

func TestUp_FailureAbortsRunButKeepsEarlierUnits(t *testing.T) {
	c := qt.New(t)

	provider, err := runner.NewFSUnitProvider(threeUnitFS(true))
	c.Assert(err, qt.IsNil)

	ledger := newFakeLedger()
	ledger.applyErr = map[string]error{
		"20240102000000_b": errors.New("syntax error"),
	}

	r := runner.New(ledger, provider)
	err = r.Up(context.Background())
	c.Assert(err, qt.IsNotNil)
	c.Assert(err.Error(), qt.Contains, "20240102000000_b")

	// A stays recorded, C was never attempted.
	c.Assert(ledger.names(), qt.DeepEquals, []string{"20240101000000_a"})
}

func TestRollback_RevertsLastBatchInReverseOrder(t *testing.T) {
	c := qt.New(t)

	provider, err := runner.NewFSUnitProvider(threeUnitFS(true))
	c.Assert(err, qt.IsNil)

	ledger := newFakeLedger(
		runner.Record{ID: 1, Name: "20240101000000_a", Batch: 1},
		runner.Record{ID: 2, Name: "20240102000000_b", Batch: 2},
		runner.Record{ID: 3, Name: "20240103000000_c", Batch: 2},
	)

	r := runner.New(ledger, provider)
	err = r.Rollback(context.Background())
	c.Assert(err, qt.IsNil)

	c.Assert(ledger.revertedOrder, qt.DeepEquals, []string{
		"20240103000000_c", "20240102000000_b",
	})
	c.Assert(ledger.names(), qt.DeepEquals, []string{"20240101000000_a"})
}

func TestRollback_MissingDownAbortsWithZeroRecordsRemoved(t *testing.T) {
	c := qt.New(t)

	// C has no down file.
	provider, err := runner.NewFSUnitProvider(threeUnitFS(false))
	c.Assert(err, qt.IsNil)

	ledger := newFakeLedger(
		runner.Record{ID: 1, Name: "20240101000000_a", Batch: 1},
		runner.Record{ID: 2, Name: "20240102000000_b", Batch: 1},
		runner.Record{ID: 3, Name: "20240103000000_c", Batch: 2},
	)

	r := runner.New(ledger, provider)
	err = r.Rollback(context.Background())
	c.Assert(err, qt.ErrorIs, runner.ErrMissingDown)
	c.Assert(err.Error(), qt.Contains, "20240103000000_c")

	c.Assert(ledger.revertedOrder, qt.HasLen, 0)
	c.Assert(ledger.records, qt.HasLen, 3)
}

func TestRollback_UnknownUnitAborts(t *testing.T) {
	c := qt.New(t)

	provider, err := runner.NewFSUnitProvider(threeUnitFS(true))
	c.Assert(err, qt.IsNil)

	// The ledger references a unit whose files were deleted from disk.
	ledger := newFakeLedger(
		runner.Record{ID: 1, Name: "20231201000000_gone", Batch: 1},
	)

	r := runner.New(ledger, provider)
	err = r.Rollback(context.Background())
	c.Assert(err, qt.ErrorIs, runner.ErrMissingDown)
	c.Assert(ledger.records, qt.HasLen, 1)
}

func TestRollback_EmptyLedgerIsNoop(t *testing.T) {
	c := qt.New(t)

	provider, err := runner.NewFSUnitProvider(threeUnitFS(true))
	c.Assert(err, qt.IsNil)

	ledger := newFakeLedger()
	r := runner.New(ledger, provider)
	c.Assert(r.Rollback(context.Background()), qt.IsNil)
	c.Assert(ledger.revertedOrder, qt.HasLen, 0)
}

func TestRollback_DeclinedConfirmationHasNoSideEffects(t *testing.T) {
	c := qt.New(t)

	provider, err := runner.NewFSUnitProvider(threeUnitFS(true))
	c.Assert(err, qt.IsNil)

	ledger := newFakeLedger(
		runner.Record{ID: 1, Name: "20240101000000_a", Batch: 1},
	)

	r := runner.New(ledger, provider).WithConfirm(func([]string, int) (bool, error) {
		return false, nil
	})

	err = r.Rollback(context.Background())
	c.Assert(err, qt.ErrorIs, runner.ErrDeclined)
	c.Assert(ledger.records, qt.HasLen, 1)
}

func TestPending(t *testing.T) {
	c := qt.New(t)

	provider, err := runner.NewFSUnitProvider(threeUnitFS(true))
	c.Assert(err, qt.IsNil)

	ledger := newFakeLedger(
		runner.Record{ID: 1, Name: "20240101000000_a", Batch: 1},
	)

	r := runner.New(ledger, provider)
	pending, err := r.Pending(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(pending, qt.HasLen, 2)
	c.Assert(pending[0].Name, qt.Equals, "20240102000000_b")
	c.Assert(pending[1].Name, qt.Equals, "20240103000000_c")
}

func TestTerminalConfirm(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{name: "yes", answer: "y\n", want: true},
		{name: "yes uppercase", answer: "Y\n", want: true},
		{name: "no", answer: "n\n", want: false},
		{name: "default is no", answer: "\n", want: false},
		{name: "eof is no", answer: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)

			var out strings.Builder
			confirm := runner.TerminalConfirm(strings.NewReader(tt.answer), &out)
			ok, err := confirm([]string{"20240101000000_a"}, 3)
			c.Assert(err, qt.IsNil)
			c.Assert(ok, qt.Equals, tt.want)
			c.Assert(out.String(), qt.Contains, "batch 3")
			c.Assert(out.String(), qt.Contains, "20240101000000_a")
		})
	}
}
