package database

import (
	"database/sql"
	"errors"
)

// execRequireRows returns missing when an otherwise successful statement
// touched no rows.
func execRequireRows(result sql.Result, err, missing error) error {
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

// noRows maps sql.ErrNoRows to missing and passes everything else through.
func noRows(err, missing error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return missing
	}
	return err
}
