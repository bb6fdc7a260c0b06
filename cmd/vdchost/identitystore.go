// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/plan44dev/vdc-host/dsuid"
)

// fileIdentityStore persists the host's dSUID as a single hex line in a
// file next to the database, implementing vdchost.IdentityStore without
// pulling the full persistence.Store/database/sql machinery in just for
// one value.
type fileIdentityStore struct {
	path string
}

func newFileIdentityStore(path string) *fileIdentityStore {
	return &fileIdentityStore{path: path}
}

func (s *fileIdentityStore) LoadDSUID() (dsuid.DSUID, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return dsuid.Zero, false, nil
	}
	if err != nil {
		return dsuid.Zero, false, err
	}
	id, err := dsuid.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return dsuid.Zero, false, err
	}
	return id, true, nil
}

// SaveDSUID writes id, holding an exclusive non-blocking flock on the
// file for the duration of the write so two vdc-host processes started
// against the same identity path (a misconfiguration, not a supported
// deployment) fail loudly instead of corrupting each other's write.
func (s *fileIdentityStore) SaveDSUID(id dsuid.DSUID) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return err
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	_, err = f.WriteString(id.String() + "\n")
	return err
}
