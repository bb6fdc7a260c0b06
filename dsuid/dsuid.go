// SPDX-License-Identifier: Apache-2.0

// Package dsuid implements the 17-byte globally-unique identifier used for
// every addressable entity in vdc-host (vDCs, devices, behaviours via
// sub-indexing). See spec.md §3 and §6.
package dsuid

import (
	"encoding/hex"
	"errors"
	"net"

	uuid "github.com/satori/go.uuid"
)

// Size is the fixed length of a dSUID in bytes: a 16-byte UUID plus one
// trailing sub-index byte.
const Size = 17

// scheme names the ways a dSUID can be derived. No constructor records it
// in the dSUID's bytes and String() does not print it.
type scheme byte

const (
	schemeNameInNamespace scheme = 1
	schemeMACDerived      scheme = 2
	schemeExternal        scheme = 3
)

// DSUID is a 17-byte globally-unique identifier. The first 16 bytes are a
// UUID (v5 name-based, or a MAC-derived/deterministic arrangement); the
// last byte is a sub-index, zero for the "primary" entity and non-zero to
// address a sub-entity (e.g. one half of a 2-way device, or one channel
// group) while keeping it distinguishable and stable across restarts.
type DSUID [Size]byte

// Zero is the empty/unset dSUID.
var Zero DSUID

// VdcNamespace is the fixed namespace UUID clients derive vDC- and
// device-level dSUIDs under via FromNameInNamespace, mirroring the fixed
// dS namespace UUID used by the original implementation.
var VdcNamespace = DSUID{
	0xba, 0x45, 0xa0, 0xca, 0xab, 0x72, 0x4e, 0x5d,
	0x8b, 0x70, 0x8f, 0x3c, 0x3b, 0xd2, 0x1d, 0x00, 0x00,
}

// FromNameInNamespace derives a dSUID as UUIDv5(namespace, name), the
// scheme used when a backend can produce a stable name (serial number,
// config path) but no MAC address. Sub-index is always 0; use WithSubIndex
// to address a sub-entity.
func FromNameInNamespace(ns DSUID, name string) DSUID {
	nsUUID := uuid.UUID{}
	copy(nsUUID[:], ns[:16])
	id := uuid.NewV5(nsUUID, name)
	var out DSUID
	copy(out[:16], id[:])
	out[16] = 0
	return out
}

// FromMACAndInstance derives a dSUID from a hardware MAC address plus a
// per-instance discriminator (for hosts/backends enumerating more than one
// device off the same MAC), matching spec.md §3's "MAC-derived" scheme.
func FromMACAndInstance(mac net.HardwareAddr, instance uint16) DSUID {
	name := mac.String()
	id := uuid.NewV5(macNamespace, name)
	var out DSUID
	copy(out[:16], id[:])
	out[14] = byte(instance >> 8)
	out[15] = byte(instance)
	out[16] = 0
	return out
}

var macNamespace = uuid.UUID{
	0x70, 0xb1, 0x4c, 0xd0, 0x5a, 0x52, 0x4a, 0x31,
	0x90, 0xa3, 0x42, 0x6e, 0x5e, 0x0b, 0xf4, 0x5e,
}

// ErrBadLength is returned by FromExternal when the supplied byte slice is
// not exactly Size bytes long.
var ErrBadLength = errors.New("dsuid: external identifier must be exactly 17 bytes")

// FromExternal wraps an externally-assigned 17-byte identifier, e.g. one
// supplied by a cloud-API backend that already mints its own dSUIDs.
func FromExternal(b []byte) (DSUID, error) {
	var out DSUID
	if len(b) != Size {
		return out, ErrBadLength
	}
	copy(out[:], b)
	return out, nil
}

// WithSubIndex returns a copy of d with the last (sub-index) byte replaced,
// implementing spec.md §3's "sub-indexing is supported in the last byte".
func (d DSUID) WithSubIndex(b byte) DSUID {
	out := d
	out[16] = b
	return out
}

// SubIndex returns the trailing sub-index byte.
func (d DSUID) SubIndex() byte {
	return d[16]
}

// IsZero reports whether d is the unset value.
func (d DSUID) IsZero() bool {
	return d == Zero
}

// String renders the dSUID as plain hex, matching the original
// implementation's wire representation (no dashes, unlike a plain UUID).
func (d DSUID) String() string {
	return hex.EncodeToString(d[:])
}

// Parse decodes a hex-encoded dSUID string produced by String().
func Parse(s string) (DSUID, error) {
	var out DSUID
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	return FromExternal(b)
}
