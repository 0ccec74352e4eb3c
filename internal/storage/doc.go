// Package storage is the sqlite persistence layer shared by the interactive
// bot surface and the broadcast scheduler.
//
// Every exported method is a single atomic read or write; callers never hold
// locks across calls, so the two surfaces can run concurrently against the
// same database.
package storage
