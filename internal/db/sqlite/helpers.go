package sqlite

import (
	"database/sql"
	"strings"
)

// nullString converts an empty string to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt converts a non-positive int to NULL.
func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}

// Page is one page of a paginated read. HasMore is derived from a
// LIMIT n+1 probe, avoiding a second COUNT query.
type Page[T any] struct {
	Items   []T
	HasMore bool
}

// trimPage applies the n+1 probe: items beyond limit mean another page.
func trimPage[T any](items []T, limit int) Page[T] {
	if limit > 0 && len(items) > limit {
		return Page[T]{Items: items[:limit], HasMore: true}
	}
	return Page[T]{Items: items}
}

// StripProjectPrefix removes everything up to and including the first
// "/<project>/" segment from an absolute path, leaving the
// project-relative path. Paths without the segment pass through.
func StripProjectPrefix(path, project string) string {
	if project == "" || path == "" {
		return path
	}
	marker := "/" + project + "/"
	if idx := strings.Index(path, marker); idx >= 0 {
		return path[idx+len(marker):]
	}
	return path
}

// stripProjectPaths rewrites every path in the slice in place.
func stripProjectPaths(paths []string, project string) []string {
	for i, p := range paths {
		paths[i] = StripProjectPrefix(p, project)
	}
	return paths
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
