package capsule

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// IDToU128 splits id into the two big-endian 64-bit halves used to carry a
// task UUID outside of a frame (the deliver-result command's payload).
func IDToU128(id uuid.UUID) (hi, lo uint64) {
	return binary.BigEndian.Uint64(id[0:8]), binary.BigEndian.Uint64(id[8:16])
}

// IDFromU128 reassembles a task UUID from the two big-endian 64-bit halves
// read off the wire.
func IDFromU128(hi, lo uint64) uuid.UUID {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], hi)
	binary.BigEndian.PutUint64(b[8:16], lo)
	return uuid.UUID(b)
}
