package postgres

import (
	"errors"

	"github.com/cwrk-planet/meeting-service/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return repository.ErrAlreadyExists
		case codeCheckViolation:
			return repository.ErrNoMatch
		}
	}

	return err
}
