package query

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "CREATE", "DROP",
	"ALTER", "EXEC", "EXECUTE", "GRANT", "REVOKE",
}

// IsReadOnly reports whether query looks like a read-only statement.
//
// This is a keyword blocklist, not a parser. It does not see through string
// literals, comments or ';' batches, and a forbidden keyword is only caught at
// the start of the query or when surrounded by single spaces. Run the gateway
// against a read-only database role as well.
func IsReadOnly(query string) bool {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return false
	}

	normalized := cases.Upper(language.Und).String(trimmed)

	for _, kw := range forbiddenKeywords {
		if strings.HasPrefix(normalized, kw) || strings.Contains(normalized, " "+kw+" ") {
			return false
		}
	}

	return strings.HasPrefix(normalized, "SELECT") || strings.HasPrefix(normalized, "WITH")
}
