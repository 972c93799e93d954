package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one persisted audit row. Entries of the same entity form a hash
// chain ordered by Seq.
type Entry struct {
	EventID    string          `json:"event_id"`
	ClinicID   string          `json:"clinic_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Seq        int             `json:"seq"`
	Action     string          `json:"action"`
	ActorID    string          `json:"actor_id,omitempty"`
	ActorRole  string          `json:"actor_role,omitempty"`
	Metadata   json.RawMessage `json:"metadata"`
	OccurredAt time.Time       `json:"occurred_at"`
	PrevHash   string          `json:"prev_hash"`
	Hash       string          `json:"hash"`
}

func ComputeHash(prevHash, entityID, action string, metadata json.RawMessage, occurredAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, entityID, action, occurredAt.UTC().Format(time.RFC3339Nano), seq, metadata)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyChain reports the first entry whose hash or link does not match.
func VerifyChain(entries []Entry) error {
	prev := ""
	for i, entry := range entries {
		if entry.Seq != i+1 {
			return fmt.Errorf("entry %s: expected seq %d, got %d", entry.EventID, i+1, entry.Seq)
		}
		if entry.PrevHash != prev {
			return fmt.Errorf("entry %s: broken link at seq %d", entry.EventID, entry.Seq)
		}
		want := ComputeHash(prev, entry.EntityID, entry.Action, entry.Metadata, entry.OccurredAt, entry.Seq)
		if entry.Hash != want {
			return fmt.Errorf("entry %s: hash mismatch at seq %d", entry.EventID, entry.Seq)
		}
		prev = entry.Hash
	}
	return nil
}
