package domain

import (
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PatchEvent records one applied single-cell patch. It is published after the
// chunk has been durably rewritten.
type PatchEvent struct {
	ID        string    `json:"id"`
	Key       ChunkKey  `json:"key"`
	Path      string    `json:"path"`
	Cell      Cell      `json:"cell"`
	OldValue  Value     `json:"old_value"`
	NewValue  Value     `json:"new_value"`
	PatchedAt time.Time `json:"patched_at"`
}

// NewPatchEvent stamps a patch event with a fresh id and the package clock.
func NewPatchEvent(loc ChunkLocation, cell Cell, oldValue, newValue float64) PatchEvent {
	return PatchEvent{
		ID:        uuid.NewString(),
		Key:       loc.Key,
		Path:      loc.Path,
		Cell:      cell,
		OldValue:  Value(oldValue),
		NewValue:  Value(newValue),
		PatchedAt: Now(),
	}
}

// Value is a cell value that encodes NaN and infinities as JSON null, since
// gridded fields use NaN as their missing-data fill.
type Value float64

func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func (v *Value) UnmarshalJSON(d []byte) error {
	if string(d) == "null" {
		*v = Value(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(d), 64)
	if err != nil {
		return err
	}
	*v = Value(f)
	return nil
}
