package services

import "errors"

var (
	ErrUnauthorized = errors.New("missing or invalid bearer token")
	ErrForbidden    = errors.New("not owned by the requesting subject")
)
