package repository

import (
	"errors"
	"fmt"

	"referpay/internal/domain"

	"gorm.io/gorm"
)

// storageErr maps gorm errors onto the domain taxonomy: a missing row becomes
// ErrNotFound, anything else is a transient storage failure.
func storageErr(op, what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return domain.Transient(op, err)
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
