// Package modelstorage provides types for querying relational DB.

package modelstorage

import "time"

type QueueStorageEntry struct {
	ID             string    `db:"id"`
	Name           string    `db:"name"`
	OperatorEmail  string    `db:"operator_email"`
	TimeoutSeconds int       `db:"timeout_seconds"`
	CreatedAt      time.Time `db:"created_at"`
}

type WaitingStorageEntry struct {
	ID         string    `db:"id"`
	QueueID    string    `db:"queue_id"`
	UID        string    `db:"uid"`
	Email      string    `db:"email"`
	Priority   int       `db:"priority"`
	AdmittedAt time.Time `db:"admitted_at"`
}

type ServingStorageEntry struct {
	QueueID    string    `db:"queue_id"`
	EntryID    string    `db:"entry_id"`
	UID        string    `db:"uid"`
	Email      string    `db:"email"`
	Priority   int       `db:"priority"`
	AdmittedAt time.Time `db:"admitted_at"`
	PromotedAt time.Time `db:"promoted_at"`
}

type RetiredStorageEntry struct {
	ID        string    `db:"id"`
	QueueID   string    `db:"queue_id"`
	UID       string    `db:"uid"`
	Email     string    `db:"email"`
	Source    string    `db:"source"`
	OriginAt  time.Time `db:"origin_at"`
	RetiredAt time.Time `db:"retired_at"`
	Reason    string    `db:"reason"`
}
