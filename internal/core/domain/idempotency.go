package domain

import "time"

// IdempotencyRecord caches the serialized result of a completed operation so
// that a retried request replays the original outcome instead of re-running
// the transfer. The record is written in the same database transaction as the
// ledger rows it describes.
type IdempotencyRecord struct {
	Key          string    `json:"key"`
	ResponseJSON []byte    `json:"response_json"`
	CreatedAt    time.Time `json:"created_at"`
}

// SettlementIdempotencyKey builds the idempotency key for a session
// settlement. One session settles at most once.
func SettlementIdempotencyKey(sessionID string) string {
	return "settle:" + sessionID
}
