// Package modelqueue provides domain types for waiting lines and their single serving slot.

package modelqueue

import "time"

// Priority classes, lower value is served first.
const (
	PriorityHigh = 1
	PriorityLow  = 2
)

// Retirement reasons.
const (
	ReasonMarkedByOperator = "marked by operator"
	ReasonNoShowByOperator = "no-show (marked by operator)"
	ReasonAutoProcessed    = "auto-processed"
)

// Retirement sources.
const (
	SourceWaiting = "waiting"
	SourceServing = "serving"
)

// Roles carried by identities.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

type (
	Queue struct {
		ID             string    `json:"id"`
		Name           string    `json:"name"`
		OperatorEmail  string    `json:"operatorEmail"`
		TimeoutSeconds int       `json:"noShowTimeoutSeconds"`
		CreatedAt      time.Time `json:"createdAt"`
	}
	WaitingEntry struct {
		ID         string    `json:"id"`
		QueueID    string    `json:"queueId"`
		UID        string    `json:"uid"`
		Email      string    `json:"email"`
		Priority   int       `json:"priority"`
		AdmittedAt time.Time `json:"admittedAt"`
	}
	ServingSlot struct {
		QueueID    string    `json:"queueId"`
		EntryID    string    `json:"entryId"`
		UID        string    `json:"uid"`
		Email      string    `json:"email"`
		Priority   int       `json:"priority"`
		AdmittedAt time.Time `json:"admittedAt"`
		PromotedAt time.Time `json:"promotedAt"`
	}
	// RetiredRecord is append-only. OriginAt holds the promotion time for a retired serving slot and
	// the admission time for a struck waiting entry.
	RetiredRecord struct {
		ID        string    `json:"id"`
		QueueID   string    `json:"queueId"`
		UID       string    `json:"uid"`
		Email     string    `json:"email"`
		Source    string    `json:"source"`
		OriginAt  time.Time `json:"originAt"`
		RetiredAt time.Time `json:"retiredAt"`
		Reason    string    `json:"reason"`
	}
	RateLimitMark struct {
		UID            string
		QueueID        string
		LastAdmittedAt time.Time
	}
	// Identity is the verified holder of a bearer credential.
	Identity struct {
		UID           string
		Email         string
		EmailVerified bool
		Role          string
	}
)

// Timeout returns the no-show timeout of the queue, or fallback when the queue has none configured.
func (q Queue) Timeout(fallback time.Duration) time.Duration {
	if q.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(q.TimeoutSeconds) * time.Second
}

// Cooling reports whether an admission at now still falls inside window of the previous one.
// A nil mark never cools.
func (m *RateLimitMark) Cooling(now time.Time, window time.Duration) bool {
	return m != nil && now.Sub(m.LastAdmittedAt) < window
}

// Promote builds the serving slot an entry turns into when it is called.
func (e WaitingEntry) Promote(at time.Time) ServingSlot {
	priority := e.Priority
	if priority == 0 {
		priority = PriorityLow
	}
	return ServingSlot{
		QueueID:    e.QueueID,
		EntryID:    e.ID,
		UID:        e.UID,
		Email:      e.Email,
		Priority:   priority,
		AdmittedAt: e.AdmittedAt,
		PromotedAt: at,
	}
}

// Before reports whether e is selected ahead of other: priority, then admission time, then id.
func (e WaitingEntry) Before(other WaitingEntry) bool {
	if e.Priority != other.Priority {
		return e.Priority < other.Priority
	}
	if !e.AdmittedAt.Equal(other.AdmittedAt) {
		return e.AdmittedAt.Before(other.AdmittedAt)
	}
	return e.ID < other.ID
}
