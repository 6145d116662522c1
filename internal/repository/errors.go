package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrDuplicateAttendance is returned when a (session, student) record already exists.
	ErrDuplicateAttendance = errors.New("attendance already recorded")
	// ErrActiveSessionExists is returned when a class already has an ACTIVE session row.
	ErrActiveSessionExists = errors.New("class already has an active session")
	// ErrStaleDayState is returned when the day counter moved underneath a rollover.
	ErrStaleDayState = errors.New("day state changed during rollover")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
