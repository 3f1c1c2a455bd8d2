package store

import (
	"fmt"

	"github.com/dkeye/Huddle/internal/core"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Open returns the membership backend named by driver.
func Open(driver, dsn string) (core.MembershipStore, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		if dsn == "" {
			return nil, fmt.Errorf("store: sqlite driver needs a dsn")
		}
		return OpenSQLite(dsn)
	}
	return nil, fmt.Errorf("store: unknown driver %q", driver)
}
