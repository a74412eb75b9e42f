package runner_test

import (
	"testing"
	"testing/fstest"

	qt "github.com/frankban/quicktest"

	"github.com/dailyfuel/dailyfuel/migration/runner"
)

func TestParseUnitFileName(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		unitName  string
		direction string
		wantErr   bool
	}{
		{
			name:      "up file",
			filename:  "20240101120000_create_users.up.sql",
			unitName:  "20240101120000_create_users",
			direction: "up",
		},
		{
			name:      "down file",
			filename:  "20240101120000_create_users.down.sql",
			unitName:  "20240101120000_create_users",
			direction: "down",
		},
		{
			name:      "hyphenated description",
			filename:  "20240215093000_add-timezone.up.sql",
			unitName:  "20240215093000_add-timezone",
			direction: "up",
		},
		{
			name:     "no timestamp prefix",
			filename: "create_users.up.sql",
			wantErr:  true,
		},
		{
			name:     "wrong extension",
			filename: "20240101120000_create_users.sql",
			wantErr:  true,
		},
		{
			name:     "not sql",
			filename: "README.md",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			parsed, err := runner.ParseUnitFileName(tt.filename)
			if tt.wantErr {
				c.Assert(err, qt.IsNotNil)
				return
			}
			c.Assert(err, qt.IsNil)
			c.Assert(parsed.Name, qt.Equals, tt.unitName)
			c.Assert(parsed.Direction, qt.Equals, tt.direction)
		})
	}
}

func TestNewFSUnitProvider_OrderedDiscovery(t *testing.T) {
	c := qt.New(t)

	fsys := fstest.MapFS{
		"20240103000000_add_logs.up.sql":      {Data: []byte("CREATE TABLE daily_logs (id SERIAL);")},
		"20240101000000_create_users.up.sql":  {Data: []byte("CREATE TABLE users (id TEXT);")},
		"20240101000000_create_users.down.sql": {Data: []byte("DROP TABLE users;")},
		"20240102000000_challenges.up.sql":    {Data: []byte("CREATE TABLE challenges (id TEXT);")},
		"20240102000000_challenges.down.sql":  {Data: []byte("DROP TABLE challenges;")},
		"README.md":                           {Data: []byte("not a migration")},
	}

	p, err := runner.NewFSUnitProvider(fsys)
	c.Assert(err, qt.IsNil)

	units := p.Units()
	c.Assert(units, qt.HasLen, 3)
	c.Assert(units[0].Name, qt.Equals, "20240101000000_create_users")
	c.Assert(units[1].Name, qt.Equals, "20240102000000_challenges")
	c.Assert(units[2].Name, qt.Equals, "20240103000000_add_logs")

	// Reverse definitions are optional at discovery time.
	c.Assert(units[0].HasDown(), qt.IsTrue)
	c.Assert(units[2].HasDown(), qt.IsFalse)

	sql, err := units[0].UpSQL()
	c.Assert(err, qt.IsNil)
	c.Assert(sql, qt.Contains, "CREATE TABLE users")
}

func TestNewFSUnitProvider_MissingUpIsFatal(t *testing.T) {
	c := qt.New(t)

	fsys := fstest.MapFS{
		"20240101000000_create_users.down.sql": {Data: []byte("DROP TABLE users;")},
	}

	p, err := runner.NewFSUnitProvider(fsys)
	c.Assert(err, qt.IsNotNil)
	c.Assert(p, qt.IsNil)
	c.Assert(err.Error(), qt.Contains, "missing up files")
	c.Assert(err.Error(), qt.Contains, "20240101000000_create_users")
}

func TestUnit_DownSQLMissing(t *testing.T) {
	c := qt.New(t)

	fsys := fstest.MapFS{
		"20240101000000_create_users.up.sql": {Data: []byte("CREATE TABLE users (id TEXT);")},
	}

	p, err := runner.NewFSUnitProvider(fsys)
	c.Assert(err, qt.IsNil)

	_, err = p.Units()[0].DownSQL()
	c.Assert(err, qt.IsNotNil)
	c.Assert(err, qt.ErrorIs, runner.ErrMissingDown)
}
