package keystore

import (
	"fmt"
	"strings"
	"time"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/smp"
)

// binVersion guards the persisted layout; bins with another version are
// rejected at load.
const binVersion = 1

// KeyBin is the persisted security-key bundle for one remote device, keyed by
// the local+remote address pair.
type KeyBin struct {
	Version int `json:"version"`

	LocalAddr  string            `json:"localAddr"`
	LocalType  bluecore.AddrType `json:"localType"`
	RemoteAddr string            `json:"remoteAddr"`
	RemoteType bluecore.AddrType `json:"remoteType"`

	SecLevel bluecore.PairingMode  `json:"secLevel"`
	IOCap    bluecore.IOCapability `json:"ioCap"`

	LTK     *smp.LongTermKey           `json:"ltk,omitempty"`
	PeerLTK *smp.LongTermKey           `json:"peerLtk,omitempty"`
	IRK     *smp.IdentityResolvingKey  `json:"irk,omitempty"`
	CSRK    *smp.SignatureResolvingKey `json:"csrk,omitempty"`
	LinkKey *smp.LinkKey               `json:"linkKey,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewKeyBin creates an empty bin for the given address pair.
func NewKeyBin(local, remote bluecore.DeviceID) *KeyBin {
	return &KeyBin{
		Version:    binVersion,
		LocalAddr:  local.Addr.String(),
		LocalType:  local.Type,
		RemoteAddr: remote.Addr.String(),
		RemoteType: remote.Type,
		CreatedAt:  time.Now(),
	}
}

// LocalID returns the local adapter identity the bin was created under.
func (b *KeyBin) LocalID() bluecore.DeviceID {
	return bluecore.NewDeviceID(b.LocalAddr, b.LocalType)
}

// RemoteID returns the remote device identity.
func (b *KeyBin) RemoteID() bluecore.DeviceID {
	return bluecore.NewDeviceID(b.RemoteAddr, b.RemoteType)
}

// HasKeys reports whether the bin carries at least one usable key.
func (b *KeyBin) HasKeys() bool {
	return (b.LTK != nil && b.LTK.Valid()) ||
		(b.PeerLTK != nil && b.PeerLTK.Valid()) ||
		(b.IRK != nil && b.IRK.Valid()) ||
		(b.CSRK != nil && b.CSRK.Valid()) ||
		(b.LinkKey != nil && b.LinkKey.Valid())
}

// validFor checks the bin against the adapter identity it is about to be used
// with. Mismatched bins belong to another controller and must not be applied.
func (b *KeyBin) validFor(local bluecore.DeviceID) error {
	if b.Version != binVersion {
		return fmt.Errorf("key bin version %d, want %d", b.Version, binVersion)
	}
	if !b.LocalID().Equal(local) {
		return fmt.Errorf("key bin local address %s does not match adapter %s", b.LocalID(), local)
	}
	if !b.RemoteID().Valid() {
		return fmt.Errorf("key bin remote address invalid")
	}
	if !b.HasKeys() {
		return fmt.Errorf("key bin holds no keys")
	}
	return nil
}

// Filename derives the per-device file name from the address pair.
func (b *KeyBin) Filename() string {
	return binFilename(b.LocalID(), b.RemoteID())
}

func binFilename(local, remote bluecore.DeviceID) string {
	flat := func(id bluecore.DeviceID) string {
		return strings.Replace(id.Addr.String(), ":", "", -1)
	}
	return fmt.Sprintf("bd_%s_%s%d.key", flat(local), flat(remote), byte(remote.Type))
}
