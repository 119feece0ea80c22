package database

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

var (
	driverMu       sync.RWMutex
	driverOverride string
)

var dollarPlaceholder = regexp.MustCompile(`\$\d+`)

// SetDriver pins the active driver. Open calls this; tests may too.
func SetDriver(name string) {
	driverMu.Lock()
	defer driverMu.Unlock()
	driverOverride = normalizeDriver(name)
}

// GetDBDriver returns the current database driver.
func GetDBDriver() string {
	driverMu.RLock()
	override := driverOverride
	driverMu.RUnlock()
	if override != "" {
		return override
	}
	// In test mode, prefer TEST_ prefixed environment variables
	driver := os.Getenv("TEST_DB_DRIVER")
	if driver == "" {
		driver = os.Getenv("DB_DRIVER")
	}
	if driver == "" {
		driver = DriverSQLite
	}
	return normalizeDriver(driver)
}

func normalizeDriver(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return ""
	case "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pgsql":
		return DriverPostgres
	case "mysql", "mariadb":
		return DriverMySQL
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

// IsMySQL returns true if using MySQL/MariaDB.
func IsMySQL() bool {
	return GetDBDriver() == DriverMySQL
}

// IsPostgreSQL returns true if using PostgreSQL.
func IsPostgreSQL() bool {
	return GetDBDriver() == DriverPostgres
}

// IsSQLite returns true if using SQLite.
func IsSQLite() bool {
	return GetDBDriver() == DriverSQLite
}

// ConvertPlaceholders converts SQL placeholders to the format required by the current database.
// This is the ONLY function that should be used for placeholder conversion in the codebase.
//
// IMPORTANT: Only ? placeholders are allowed. Using $N placeholders will panic.
//   - For PostgreSQL: ? -> $1, $2, ...
//   - For MySQL and SQLite: ? passed through as-is
func ConvertPlaceholders(query string) string {
	if dollarPlaceholder.MatchString(query) {
		panic(fmt.Sprintf("ConvertPlaceholders: $N placeholders are not allowed. Use ? placeholders instead.\nQuery: %s", query))
	}

	if !IsPostgreSQL() || !strings.Contains(query, "?") {
		return query
	}

	var result strings.Builder
	result.Grow(len(query) + 8)
	paramNum := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&result, "$%d", paramNum)
			paramNum++
			continue
		}
		result.WriteRune(c)
	}
	return result.String()
}

// BoolValue returns the literal used for booleans in raw SQL for the active driver.
func BoolValue(v bool) string {
	if IsPostgreSQL() {
		if v {
			return "TRUE"
		}
		return "FALSE"
	}
	if v {
		return "1"
	}
	return "0"
}

// IsUniqueViolation reports whether err came from a unique constraint.
// Drivers expose different error types, so the message is inspected.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
