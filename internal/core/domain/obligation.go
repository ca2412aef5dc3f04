package domain

import (
	"time"

	"github.com/google/uuid"
)

// Obligation records the unpaid part of a session settlement. When a learner
// cannot cover the full charge at session end the shortfall is written here,
// in the same database transaction that made the decision, so the debt is
// never silently dropped.
type Obligation struct {
	ID        uuid.UUID  `json:"id"`
	SessionID string     `json:"session_id"`
	LearnerID uuid.UUID  `json:"learner_id"`
	TeacherID uuid.UUID  `json:"teacher_id"`
	Amount    int64      `json:"amount"`
	CreatedAt time.Time  `json:"created_at"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}
