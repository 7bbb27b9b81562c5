package mailing

import "errors"

var (
	// ErrTemplateNotFound means the task references a template that no
	// longer exists. Fatal for the run.
	ErrTemplateNotFound = errors.New("mailing: template not found")

	// ErrNoValidDestinations means every destination was dropped during
	// resolution. Fatal for the run.
	ErrNoValidDestinations = errors.New("mailing: no valid destinations")

	// ErrNoSession means the owner has no stored delivery credential.
	ErrNoSession = errors.New("mailing: owner has no delivery session")
)
