package repository

import (
	"database/sql"
	"errors"
)

// optional turns sql.ErrNoRows into a nil row, for lookups where absence
// is a valid state.
func optional[T any](row *T, err error) (*T, error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return row, nil
}
