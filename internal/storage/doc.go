// Package storage persists accounts, message templates and scheduled
// mailing tasks. Two drivers are available: sqlite (default, single file)
// and postgres.
package storage
