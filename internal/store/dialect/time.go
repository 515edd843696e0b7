package dialect

import "fmt"

// Now returns the SQL expression for the current timestamp.
func Now(driver string) string {
	if IsPostgres(driver) {
		return "NOW()"
	}
	return "datetime('now')"
}

// ExpiredBefore returns the SQL predicate selecting rows whose expr column
// is a non-null timestamp at or before the current time, used by the
// proposal sweep to find expired drafts.
func ExpiredBefore(driver, expr string) string {
	return fmt.Sprintf("%s IS NOT NULL AND %s <= %s", expr, expr, Now(driver))
}

// InsertReturningPlaceholder returns the RETURNING clause for drivers that
// support it (Postgres); SQLite callers fall back to a follow-up SELECT
// since RETURNING support varies by build.
func InsertReturningPlaceholder(driver, column string) string {
	if IsPostgres(driver) {
		return fmt.Sprintf(" RETURNING %s", column)
	}
	return ""
}
