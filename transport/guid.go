package transport

import "encoding/hex"

// GUID identifies a transport entity. The first twelve bytes form the
// participant prefix, the last four the entity id within the participant.
type GUID [16]byte

// PrefixLen is the number of leading GUID bytes shared by all entities of a
// participant.
const PrefixLen = 12

// IsZero reports whether the GUID is unset.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// Prefix returns the participant prefix of the GUID.
func (g GUID) Prefix() [PrefixLen]byte {
	var prefix [PrefixLen]byte
	copy(prefix[:], g[:PrefixLen])
	return prefix
}

// String renders the GUID as hex with the entity id separated by a dot.
func (g GUID) String() string {
	return hex.EncodeToString(g[:PrefixLen]) + "." + hex.EncodeToString(g[PrefixLen:])
}

// WithEntity returns a copy of the GUID with the entity id replaced.
func (g GUID) WithEntity(entity uint32) GUID {
	out := g
	out[12] = byte(entity >> 24)
	out[13] = byte(entity >> 16)
	out[14] = byte(entity >> 8)
	out[15] = byte(entity)
	return out
}
