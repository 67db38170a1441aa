// Package keystore persists SMP key bundles, one file per remote device,
// under a configured directory. Files are validated against the local adapter
// address before use; corrupt or mismatched files are rejected, not repaired.
package keystore

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/seliot/bluecore"
)

var logger = bluecore.GetLogger()

// Store is a directory-backed key-bin store for one adapter.
type Store struct {
	dir   string
	local bluecore.DeviceID

	mu   sync.Mutex
	bins map[string]*KeyBin // remote id string -> bin
}

// Open creates the directory if needed and loads all valid bins for the given
// local adapter identity. Invalid files are skipped with a warning.
func Open(dir string, local bluecore.DeviceID) (*Store, error) {
	if dir == "" {
		return nil, errors.New("keystore: empty directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "keystore: create dir")
	}

	s := &Store{dir: dir, local: local, bins: make(map[string]*KeyBin)}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadAll() error {
	entries, err := ioutil.ReadDir(s.dir)
	if err != nil {
		return errors.Wrap(err, "keystore: read dir")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fi := range entries {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".key") {
			continue
		}
		path := filepath.Join(s.dir, fi.Name())

		bin, err := readBin(path)
		if err != nil {
			logger.Warnf("keystore: skipping %s: %v", fi.Name(), err)
			continue
		}
		if err := bin.validFor(s.local); err != nil {
			logger.Warnf("keystore: rejecting %s: %v", fi.Name(), err)
			continue
		}
		s.bins[bin.RemoteID().String()] = bin
	}

	logger.Debugf("keystore: loaded %d key bins from %s", len(s.bins), s.dir)
	return nil
}

func readBin(path string) (*KeyBin, error) {
	in, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}

	var bin KeyBin
	if err := jsoniter.Unmarshal(in, &bin); err != nil {
		return nil, errors.Wrap(err, "unmarshal")
	}
	if bin.IRK != nil {
		bin.IRK.Identity = bluecore.NewDeviceID(bin.IRK.IdentityAddr, bin.IRK.IdentityType)
	}
	return &bin, nil
}

// Find returns the bin for a remote device, or nil.
func (s *Store) Find(remote bluecore.DeviceID) *KeyBin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bins[remote.String()]
}

// All returns a snapshot of every loaded bin.
func (s *Store) All() []*KeyBin {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*KeyBin, 0, len(s.bins))
	for _, b := range s.bins {
		out = append(out, b)
	}
	return out
}

// Save validates and persists a bin, replacing any previous bin for the same
// remote device.
func (s *Store) Save(bin *KeyBin) error {
	if bin == nil {
		return errors.New("keystore: nil bin")
	}
	if err := bin.validFor(s.local); err != nil {
		return errors.Wrap(err, "keystore: save")
	}

	out, err := jsoniter.Marshal(bin)
	if err != nil {
		return errors.Wrap(err, "keystore: marshal")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, bin.Filename())
	if err := ioutil.WriteFile(path, out, 0600); err != nil {
		return errors.Wrap(err, "keystore: write")
	}
	s.bins[bin.RemoteID().String()] = bin
	return nil
}

// Delete removes the bin for a remote device. Returns false when none was
// stored.
func (s *Store) Delete(remote bluecore.DeviceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	bin, ok := s.bins[remote.String()]
	if !ok {
		return false
	}
	delete(s.bins, remote.String())

	path := filepath.Join(s.dir, bin.Filename())
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("keystore: remove %s: %v", path, err)
	}
	return true
}

// Len returns the number of loaded bins.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bins)
}
