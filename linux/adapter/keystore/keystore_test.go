package keystore

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/smp"
)

func localID() bluecore.DeviceID {
	return bluecore.NewDeviceID("00:1A:7D:DA:71:13", bluecore.AddrTypePublic)
}

func remoteID() bluecore.DeviceID {
	return bluecore.NewDeviceID("11:22:33:44:55:66", bluecore.AddrTypePublic)
}

func sampleBin(t *testing.T) *KeyBin {
	t.Helper()
	bin := NewKeyBin(localID(), remoteID())
	bin.SecLevel = bluecore.PairingModeJustWorks
	bin.LTK = &smp.LongTermKey{
		Key:               [16]byte{0xde, 0xad, 0xbe, 0xef},
		KeySize:           16,
		SecureConnections: true,
	}
	bin.IRK = &smp.IdentityResolvingKey{
		Key:          [16]byte{1, 2, 3},
		Identity:     remoteID(),
		IdentityAddr: remoteID().Addr.String(),
		IdentityType: remoteID().Type,
	}
	return bin
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, localID())
	require.NoError(t, err)
	require.NoError(t, s.Save(sampleBin(t)))

	// Reopen and verify the bin survived intact.
	s2, err := Open(dir, localID())
	require.NoError(t, err)
	bin := s2.Find(remoteID())
	require.NotNil(t, bin, "bin lost across reopen")
	require.NotNil(t, bin.LTK)
	require.Equal(t, byte(0xde), bin.LTK.Key[0])
	require.NotNil(t, bin.IRK)
	require.True(t, bin.IRK.Identity.Equal(remoteID()))
	require.Equal(t, bluecore.PairingModeJustWorks, bin.SecLevel)
}

func TestStoreRejectsForeignBins(t *testing.T) {
	dir := t.TempDir()

	other := bluecore.NewDeviceID("AA:BB:CC:DD:EE:FF", bluecore.AddrTypePublic)
	s, err := Open(dir, other)
	require.NoError(t, err)
	bin := NewKeyBin(other, remoteID())
	bin.LTK = &smp.LongTermKey{Key: [16]byte{9}, KeySize: 16, SecureConnections: true}
	require.NoError(t, s.Save(bin))

	// The same directory opened under another adapter ignores the bin.
	s2, err := Open(dir, localID())
	require.NoError(t, err)
	require.Equal(t, 0, s2.Len(), "foreign bin loaded")
}

func TestStoreSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "bd_garbage0.key"), []byte("{not json"), 0600))

	s, err := Open(dir, localID())
	require.NoError(t, err)
	require.Equal(t, 0, s.Len(), "corrupt file loaded")
}

func TestStoreRejectsEmptyBin(t *testing.T) {
	s, err := Open(t.TempDir(), localID())
	require.NoError(t, err)
	require.Error(t, s.Save(NewKeyBin(localID(), remoteID())), "bin without keys accepted")
	require.Error(t, s.Save(nil), "nil bin accepted")
}

func TestStoreDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, localID())
	require.NoError(t, err)
	bin := sampleBin(t)
	require.NoError(t, s.Save(bin))

	path := filepath.Join(dir, bin.Filename())
	_, err = os.Stat(path)
	require.NoError(t, err, "bin file missing")

	require.True(t, s.Delete(remoteID()))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err), "bin file survived Delete")
	require.False(t, s.Delete(remoteID()), "second Delete returned true")
}

func TestBinVersionGuard(t *testing.T) {
	bin := sampleBin(t)
	bin.Version = binVersion + 1
	require.Error(t, bin.validFor(localID()), "future version accepted")
}

func TestBinFilename(t *testing.T) {
	require.Equal(t, "bd_001a7dda7113_1122334455660.key", sampleBin(t).Filename())
}
