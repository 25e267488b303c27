package provenance

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/crypto/blake2s"

	"github.com/louisbranch/dizzy/internal/dispatch/codec"
)

// ErrNotFound indicates an unknown activity or entity.
var ErrNotFound = errors.New("provenance record not found")

// Status describes how an activity ended.
type Status string

const (
	StatusStarted   Status = "started"
	StatusEnded     Status = "ended"
	StatusCrashed   Status = "crashed"
	StatusCancelled Status = "cancelled"
)

// Activity is one handler invocation.
type Activity struct {
	ID        string
	RunID     string
	Handler   string
	Kind      string
	Cycle     int
	Seq       uint64
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time
	Error     string
	// Used is the entity id of the dispatched item.
	Used string
	// Generated lists entity ids of committed emissions, in order.
	Generated []string
}

// Entity is a content-addressed command or event payload.
type Entity struct {
	ID      string
	Kind    string
	Type    string
	Payload json.RawMessage
}

// Derivation links an output entity to the input it came from.
type Derivation struct {
	EntityID   string
	SourceID   string
	ActivityID string
}

// Store persists provenance records.
type Store interface {
	PutEntity(ctx context.Context, entity Entity) error
	PutActivity(ctx context.Context, activity Activity) error
	PutDerivation(ctx context.Context, derivation Derivation) error
	GetActivity(ctx context.Context, id string) (Activity, error)
	GetEntity(ctx context.Context, id string) (Entity, error)
	// DerivationsOf returns the derivations whose output is entityID.
	DerivationsOf(ctx context.Context, entityID string) ([]Derivation, error)
}

// EntityID hashes a type name and payload with blake2s.
func EntityID(typ string, payload json.RawMessage) (string, error) {
	canonical, err := codec.CanonicalRaw(payload)
	if err != nil {
		return "", err
	}
	h, err := blake2s.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(typ))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
