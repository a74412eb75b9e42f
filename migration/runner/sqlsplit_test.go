package runner_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/dailyfuel/dailyfuel/migration/runner"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "single statement",
			input:    "CREATE TABLE users (id TEXT);",
			expected: []string{"CREATE TABLE users (id TEXT)"},
		},
		{
			name:  "multiple statements",
			input: "CREATE TABLE a (id TEXT);\nCREATE INDEX idx_a ON a (id);",
			expected: []string{
				"CREATE TABLE a (id TEXT)",
				"CREATE INDEX idx_a ON a (id)",
			},
		},
		{
			name:     "semicolon inside string literal",
			input:    "INSERT INTO t (v) VALUES ('a;b');",
			expected: []string{"INSERT INTO t (v) VALUES ('a;b')"},
		},
		{
			name:     "backslash-escaped quote inside string literal",
			input:    `INSERT INTO t (v) VALUES ('it\'s; fine');`,
			expected: []string{`INSERT INTO t (v) VALUES ('it\'s; fine')`},
		},
		{
			name:     "doubled quote inside string literal",
			input:    "INSERT INTO t (v) VALUES ('it''s; fine');",
			expected: []string{"INSERT INTO t (v) VALUES ('it''s; fine')"},
		},
		{
			name:     "semicolon inside quoted identifier",
			input:    `CREATE TABLE "weird;name" (id TEXT);`,
			expected: []string{`CREATE TABLE "weird;name" (id TEXT)`},
		},
		{
			name:     "line comments stripped",
			input:    "-- creates the users table\nCREATE TABLE users (id TEXT);\n-- done\n",
			expected: []string{"CREATE TABLE users (id TEXT)"},
		},
		{
			name:     "block comment with semicolon",
			input:    "/* drop; then recreate */ DROP TABLE users;",
			expected: []string{"DROP TABLE users"},
		},
		{
			name:  "dollar quoted function body",
			input: "CREATE FUNCTION f() RETURNS trigger AS $$ BEGIN NEW.updated_at = now(); RETURN NEW; END; $$ LANGUAGE plpgsql;",
			expected: []string{
				"CREATE FUNCTION f() RETURNS trigger AS $$ BEGIN NEW.updated_at = now(); RETURN NEW; END; $$ LANGUAGE plpgsql",
			},
		},
		{
			name:  "tagged dollar quote",
			input: "CREATE FUNCTION f() RETURNS void AS $body$ SELECT 1; $body$ LANGUAGE sql;",
			expected: []string{
				"CREATE FUNCTION f() RETURNS void AS $body$ SELECT 1; $body$ LANGUAGE sql",
			},
		},
		{
			name:     "trailing whitespace and empty statements",
			input:    ";;\n  CREATE TABLE a (id TEXT);  \n;\n",
			expected: []string{"CREATE TABLE a (id TEXT)"},
		},
		{
			name:     "empty input",
			input:    "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(runner.SplitStatements(tt.input), qt.DeepEquals, tt.expected)
		})
	}
}
