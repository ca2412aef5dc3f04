package domain

import (
	"time"

	"github.com/google/uuid"
)

// BankAccountID is the reserved identity of the system bank reserve.
// It is seeded at startup with its own wallet; donations flow into it and
// support grants are paid out of it.
var BankAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Account represents a marketplace participant. The identity subsystem owns
// authentication; this service only mirrors the account id it is handed.
type Account struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsBank reports whether the id refers to the bank reserve.
func IsBank(id uuid.UUID) bool {
	return id == BankAccountID
}
