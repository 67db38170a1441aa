package adapter

import (
	"sync"
	"testing"
	"time"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/hcilink"
	"github.com/seliot/bluecore/linux/mgmt"
	"github.com/seliot/bluecore/linux/smp"
)

func testID(t *testing.T, s string) bluecore.DeviceID {
	t.Helper()
	return bluecore.NewDeviceID(s, bluecore.AddrTypePublic)
}

func randomID(t *testing.T, s string) bluecore.DeviceID {
	t.Helper()
	return bluecore.NewDeviceID(s, bluecore.AddrTypeRandom)
}

// fakeMgmt records management commands and answers with canned statuses.
type fakeMgmt struct {
	mu    sync.Mutex
	calls []string

	pairStatus   bluecore.Status
	allowStatus  bluecore.Status
	unpairStatus bluecore.Status
}

func newFakeMgmt() *fakeMgmt {
	return &fakeMgmt{
		pairStatus:   bluecore.StatusSuccess,
		allowStatus:  bluecore.StatusSuccess,
		unpairStatus: bluecore.StatusSuccess,
	}
}

func (f *fakeMgmt) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeMgmt) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeMgmt) SetPowered(bool) bluecore.Status { f.record("SetPowered"); return bluecore.StatusSuccess }
func (f *fakeMgmt) SetDiscoverable(bool, uint16) bluecore.Status {
	f.record("SetDiscoverable")
	return bluecore.StatusSuccess
}
func (f *fakeMgmt) SetBondable(bool) bluecore.Status { f.record("SetBondable"); return bluecore.StatusSuccess }
func (f *fakeMgmt) SetSecureConnections(byte) bluecore.Status {
	f.record("SetSecureConnections")
	return bluecore.StatusSuccess
}
func (f *fakeMgmt) SetPrivacy([16]byte) bluecore.Status { f.record("SetPrivacy"); return bluecore.StatusSuccess }
func (f *fakeMgmt) SetIOCapability(bluecore.IOCapability) bluecore.Status {
	f.record("SetIOCapability")
	return bluecore.StatusSuccess
}

func (f *fakeMgmt) AddToAllowList(bluecore.DeviceID, mgmt.AllowListAction) bluecore.Status {
	f.record("AddToAllowList")
	return f.allowStatus
}
func (f *fakeMgmt) RemoveFromAllowList(bluecore.DeviceID) bluecore.Status {
	f.record("RemoveFromAllowList")
	return bluecore.StatusSuccess
}

func (f *fakeMgmt) PairDevice(bluecore.DeviceID, bluecore.IOCapability) bluecore.Status {
	f.record("PairDevice")
	return f.pairStatus
}
func (f *fakeMgmt) CancelPairDevice(bluecore.DeviceID) bluecore.Status {
	f.record("CancelPairDevice")
	return bluecore.StatusSuccess
}
func (f *fakeMgmt) Unpair(bluecore.DeviceID, bool) bluecore.Status {
	f.record("Unpair")
	return f.unpairStatus
}

func (f *fakeMgmt) UploadLongTermKey(bluecore.DeviceID, smp.LongTermKey) bluecore.Status {
	f.record("UploadLongTermKey")
	return bluecore.StatusSuccess
}
func (f *fakeMgmt) UploadLinkKey(bluecore.DeviceID, smp.LinkKey) bluecore.Status {
	f.record("UploadLinkKey")
	return bluecore.StatusSuccess
}
func (f *fakeMgmt) UploadIdentityResolvingKey(bluecore.DeviceID, smp.IdentityResolvingKey) bluecore.Status {
	f.record("UploadIdentityResolvingKey")
	return bluecore.StatusSuccess
}

func (f *fakeMgmt) NotifyResolvedAddress(identity, visible bluecore.DeviceID) bluecore.Status {
	f.record("NotifyResolvedAddress")
	return bluecore.StatusSuccess
}

func (f *fakeMgmt) ReadDefaultSysParams() (mgmt.SysParams, bluecore.Status) {
	f.record("ReadDefaultSysParams")
	return mgmt.SysParams{}, bluecore.StatusSuccess
}

// fakeLink records link-control commands.
type fakeLink struct {
	mu    sync.Mutex
	calls []string

	scanEnableStatus bluecore.Status
	scanEnabled      bool
	sentPDUs         [][]byte
}

func newFakeLink() *fakeLink {
	return &fakeLink{scanEnableStatus: bluecore.StatusSuccess}
}

func (f *fakeLink) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeLink) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeLink) SetScanParams(hcilink.ScanParams) bluecore.Status {
	f.record("SetScanParams")
	return bluecore.StatusSuccess
}

func (f *fakeLink) SetScanEnable(enable, _ bool) bluecore.Status {
	f.record("SetScanEnable")
	f.mu.Lock()
	st := f.scanEnableStatus
	if st.Ok() {
		f.scanEnabled = enable
	}
	f.mu.Unlock()
	return st
}

func (f *fakeLink) StartAdvertising() bluecore.Status { f.record("StartAdvertising"); return bluecore.StatusSuccess }
func (f *fakeLink) StopAdvertising() bluecore.Status  { f.record("StopAdvertising"); return bluecore.StatusSuccess }

func (f *fakeLink) SetDefaultPHY(tx, rx byte) bluecore.Status {
	f.record("SetDefaultPHY")
	return bluecore.StatusSuccess
}
func (f *fakeLink) Reset() bluecore.Status { f.record("Reset"); return bluecore.StatusSuccess }

func (f *fakeLink) Disconnect(uint16, byte) bluecore.Status {
	f.record("Disconnect")
	return bluecore.StatusSuccess
}

func (f *fakeLink) EnableEncryption(uint16, smp.LongTermKey) bluecore.Status {
	f.record("EnableEncryption")
	return bluecore.StatusSuccess
}
func (f *fakeLink) LongTermKeyReply(uint16, [16]byte) bluecore.Status {
	f.record("LongTermKeyReply")
	return bluecore.StatusSuccess
}
func (f *fakeLink) LongTermKeyNegativeReply(uint16) bluecore.Status {
	f.record("LongTermKeyNegativeReply")
	return bluecore.StatusSuccess
}

func (f *fakeLink) SendSecurityPDU(_ uint16, pdu []byte) bluecore.Status {
	f.record("SendSecurityPDU")
	f.mu.Lock()
	f.sentPDUs = append(f.sentPDUs, append([]byte(nil), pdu...))
	f.mu.Unlock()
	return bluecore.StatusSuccess
}

func (f *fakeLink) lastSentPDU() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sentPDUs) == 0 {
		return nil
	}
	return f.sentPDUs[len(f.sentPDUs)-1]
}

// recordingListener captures every callback it receives.
type recordingListener struct {
	mu     sync.Mutex
	accept bool

	found        []bluecore.DeviceID
	updated      []bluecore.EIRMask
	connected    []bluecore.DeviceID
	disconnected []bluecore.DeviceID
	pairing      []bluecore.PairingState
	discovering  []bool
	settings     []bluecore.AdapterSetting
}

func (l *recordingListener) DeviceFound(d bluecore.Device, _ time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.found = append(l.found, d.ID())
	return l.accept
}

func (l *recordingListener) DeviceUpdated(_ bluecore.Device, changed bluecore.EIRMask, _ time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updated = append(l.updated, changed)
}

func (l *recordingListener) DeviceConnected(d bluecore.Device, _ uint16, _ time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, d.ID())
}

func (l *recordingListener) DeviceDisconnected(d bluecore.Device, _ byte, _ uint16, _ time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected = append(l.disconnected, d.ID())
}

func (l *recordingListener) PairingStateChanged(_ bluecore.Device, s bluecore.PairingState, _ bluecore.PairingMode, _ time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pairing = append(l.pairing, s)
}

func (l *recordingListener) DiscoveringChanged(_, _ bluecore.ScanType, enabled bool, _ bluecore.DiscoveryPolicy, _ time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discovering = append(l.discovering, enabled)
}

func (l *recordingListener) SettingsChanged(_, cur, _ bluecore.AdapterSetting, _ time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings = append(l.settings, cur)
}

func (l *recordingListener) foundCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.found)
}

func (l *recordingListener) pairingStates() []bluecore.PairingState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bluecore.PairingState, len(l.pairing))
	copy(out, l.pairing)
	return out
}

// newTestAdapter builds an adapter over fakes without starting the pumps;
// tests feed events straight into the handlers.
func newTestAdapter(t *testing.T, opts ...bluecore.Option) (*Adapter, *fakeMgmt, *fakeLink) {
	t.Helper()
	fm := newFakeMgmt()
	fl := newFakeLink()
	a, err := New(testID(t, "00:1A:7D:DA:71:13"), fm, fl, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, fm, fl
}
