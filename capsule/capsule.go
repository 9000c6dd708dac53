// Package capsule defines the self-contained GPU work unit moved around the
// fabric, and the task wrapper that adds routing metadata.
package capsule

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/joeycumines/clustered/addr"
)

// Program is a self-contained GPU compute program: shader source, its
// entry point, opaque input bytes, the required output size, and dispatch
// geometry. Field names are part of the wire contract — this struct's JSON
// form must match exactly, including in_data's base64 encoding, which
// encoding/json already performs for a []byte field.
type Program struct {
	InData         []byte `json:"in_data"`
	OutDataNBytes  int    `json:"out_data_nbytes"`
	Program        string `json:"program"`
	EntryPoint     string `json:"entry_point"`
	NWorkgroups    uint32 `json:"n_workgroups"`
	WorkgroupSize  uint32 `json:"workgroup_size"`
}

// Validate checks the invariants a Program must satisfy before it is
// dispatched: positive output size, and non-zero dispatch geometry.
func (p Program) Validate() error {
	if p.OutDataNBytes <= 0 {
		return fmt.Errorf("capsule: out_data_nbytes must be > 0, got %d", p.OutDataNBytes)
	}
	if p.WorkgroupSize < 1 {
		return fmt.Errorf("capsule: workgroup_size must be >= 1, got %d", p.WorkgroupSize)
	}
	if p.NWorkgroups < 1 {
		return fmt.Errorf("capsule: n_workgroups must be >= 1, got %d", p.NWorkgroups)
	}
	return nil
}

// Task is a Program plus the routing metadata needed to return its result
// to the peer that originally accepted it. Tasks are value objects; moving
// one between peers transfers ownership of execution, never of the result
// slot, which always remains at ReturnAddr's peer.
type Task struct {
	ID         uuid.UUID  `json:"id"`
	ReturnAddr addr.Peer  `json:"return_addr"`
	Program    Program    `json:"program"`
}

// NewTask mints a fresh task with a time-ordered (v7) identifier, so
// concurrently-created tasks retain a natural FIFO ordering.
func NewTask(returnAddr addr.Peer, program Program) (Task, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Task{}, fmt.Errorf("capsule: generate task id: %w", err)
	}
	return Task{ID: id, ReturnAddr: returnAddr, Program: program}, nil
}
