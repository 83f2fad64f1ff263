package schema

import (
	"fmt"
	"regexp"
	"strings"

	"csvtosql/internal/validation"
)

// MaxTableNameLength matches the width of csv_tables.name.
const MaxTableNameLength = 100

var tableNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// NormalizeTableName maps a user supplied table name onto the identifier
// alphabet. Case is preserved. The result is stable under repeated
// application.
func NormalizeTableName(name string) string {
	cleaned := replaceInvalid(strings.TrimSpace(name))
	if cleaned == "" {
		return ""
	}
	if !isASCIILetter(rune(cleaned[0])) {
		cleaned = "table_" + cleaned
	}
	return cleaned
}

// ValidateTableName checks an already normalized name.
func ValidateTableName(name string) error {
	switch {
	case name == "":
		return validation.New("table_name", "Table name is required.")
	case len(name) > MaxTableNameLength:
		return validation.New("table_name", fmt.Sprintf("Table name must be at most %d characters (got %d).", MaxTableNameLength, len(name)))
	case !tableNamePattern.MatchString(name):
		return validation.New("table_name", fmt.Sprintf("Table name %q is not a valid identifier.", name))
	}
	return nil
}

// NormalizeColumnName lower-cases a header and trims underscores left over
// from punctuation. It may return "" for headers made only of punctuation.
func NormalizeColumnName(name string) string {
	return strings.Trim(strings.ToLower(replaceInvalid(name)), "_")
}

func replaceInvalid(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isASCIILetter(r) || r >= '0' && r <= '9' || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func isASCIILetter(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
}
