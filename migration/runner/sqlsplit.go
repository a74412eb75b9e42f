package runner

import "strings"

// SplitStatements splits a SQL script into individual statements. The mysql
// driver does not accept multiple statements in a single Exec call, so unit
// files are split on semicolons that sit outside string literals, quoted
// identifiers and dollar-quoted bodies. Comments are stripped.
func SplitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
	)

	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateLineComment
		stateBlockComment
		stateDollarQuote
	)

	state := stateNormal
	var dollarTag string

	for i := 0; i < len(script); i++ {
		ch := script[i]

		switch state {
		case stateNormal:
			switch {
			case ch == ';':
				statements = appendStatement(statements, current.String())
				current.Reset()
				continue
			case ch == '\'':
				state = stateSingleQuote
			case ch == '"':
				state = stateDoubleQuote
			case ch == '-' && i+1 < len(script) && script[i+1] == '-':
				state = stateLineComment
				i++
				continue
			case ch == '/' && i+1 < len(script) && script[i+1] == '*':
				state = stateBlockComment
				i++
				continue
			case ch == '$':
				if tag, ok := dollarQuoteTag(script[i:]); ok {
					dollarTag = tag
					current.WriteString(tag)
					i += len(tag) - 1
					state = stateDollarQuote
					continue
				}
			}
		case stateSingleQuote:
			// Backslash escapes (mysql) keep the literal open; standard
			// doubled quotes work without special handling.
			if ch == '\\' && i+1 < len(script) {
				current.WriteByte(ch)
				i++
				ch = script[i]
				break
			}
			if ch == '\'' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if ch == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if ch == '\n' {
				state = stateNormal
				current.WriteByte(ch)
			}
			continue
		case stateBlockComment:
			if ch == '*' && i+1 < len(script) && script[i+1] == '/' {
				i++
				state = stateNormal
			}
			continue
		case stateDollarQuote:
			if ch == '$' && strings.HasPrefix(script[i:], dollarTag) {
				current.WriteString(dollarTag)
				i += len(dollarTag) - 1
				state = stateNormal
				continue
			}
		}

		current.WriteByte(ch)
	}

	return appendStatement(statements, current.String())
}

func appendStatement(statements []string, stmt string) []string {
	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return statements
	}
	return append(statements, stmt)
}

// dollarQuoteTag reports whether s starts a postgres dollar-quote opener
// like $$ or $body$ and returns the full tag.
func dollarQuoteTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	for i := 1; i < len(s); i++ {
		ch := s[i]
		if ch == '$' {
			return s[:i+1], true
		}
		isTagChar := ch == '_' ||
			(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9')
		if !isTagChar {
			return "", false
		}
	}
	return "", false
}
