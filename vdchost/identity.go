// SPDX-License-Identifier: Apache-2.0

// Package vdchost implements the VdcHost of spec.md §2: the top-level
// object that owns identity, the property tree exposed to the north-bound
// API, the RPC session, and the single main loop everything else runs on.
package vdchost

import (
	"net"

	"github.com/plan44dev/vdc-host/dsuid"
)

// IdentityStore persists and loads the host's own dSUID, per spec.md §6
// ("identity... overridable externally; migrations keep both and prefer
// the stored one").
type IdentityStore interface {
	LoadDSUID() (dsuid.DSUID, bool, error)
	SaveDSUID(id dsuid.DSUID) error
}

// DeriveOrLoadDSUID returns the host's identity: a persisted dSUID if one
// is on record, else one externally supplied (overrideID, non-zero), else
// one freshly derived from mac+instance, which is then persisted so
// future runs load the same identity, per spec.md §6's migration rule
// ("prefer the stored one").
func DeriveOrLoadDSUID(store IdentityStore, mac net.HardwareAddr, instance uint16, overrideID dsuid.DSUID) (dsuid.DSUID, error) {
	if stored, ok, err := store.LoadDSUID(); err != nil {
		return dsuid.Zero, err
	} else if ok {
		return stored, nil
	}

	id := overrideID
	if id.IsZero() {
		id = dsuid.FromMACAndInstance(mac, instance)
	}
	if err := store.SaveDSUID(id); err != nil {
		return dsuid.Zero, err
	}
	return id, nil
}
