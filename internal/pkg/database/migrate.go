package database

import (
	"fmt"
	"net/url"
	"strings"
)

// MigrationURL turns a GORM DSN into the URL golang-migrate expects for the
// same driver.
func MigrationURL(driver, dsn string) (string, error) {
	switch driver {
	case "postgres":
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			return dsn, nil
		}
		return "", fmt.Errorf("postgres migrations need a URL style DATABASE_URL, got key/value DSN")
	case "mysql":
		return "mysql://" + withParam(strings.TrimPrefix(dsn, "mysql://"), "multiStatements", "true"), nil
	case "sqlite":
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		return "sqlite3://" + path, nil
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

// MigrationsDir is the directory holding the SQL files for driver.
func MigrationsDir(driver string) string {
	return "migrations/" + driver
}

func withParam(dsn, key, value string) string {
	base, query, _ := strings.Cut(dsn, "?")
	params, err := url.ParseQuery(query)
	if err != nil {
		params = url.Values{}
	}
	params.Set(key, value)
	return base + "?" + params.Encode()
}
