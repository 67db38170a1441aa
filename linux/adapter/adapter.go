package adapter

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/adapter/keystore"
	"github.com/seliot/bluecore/linux/hcilink"
	"github.com/seliot/bluecore/linux/mgmt"
	"github.com/seliot/bluecore/linux/smp"
)

var logger bluecore.Logger = bluecore.GetLogger()

// SetLogger ...
func SetLogger(l bluecore.Logger) {
	logger = l
}

const (
	defaultConnectTimeout  = 10 * time.Second
	defaultWatchdogPeriod  = 4 * time.Second
	defaultDiscoveryTrials = 5
	defaultDiscoveryPause  = 500 * time.Millisecond

	// SMP transaction timeout, Core Spec Vol 3, Part H, 3.4.
	defaultSMPReplyTimeout = 30 * time.Second
)

func errConnectFailed(id bluecore.DeviceID, st bluecore.Status) error {
	return errors.Errorf("connect to %v failed: %v", id, st)
}

// Adapter owns the device registries, the discovery coordinator, the
// connection gate and the pairing machinery, and reconciles the management
// and link-control event streams into one consistent view.
type Adapter struct {
	mgmt mgmt.Commander
	link hcilink.Commander

	reg       *Registry
	disc      *discoveryCoordinator
	gate      *connectionGate
	keys      *keystore.Store
	listeners *listenerSet

	localID bluecore.DeviceID

	mu         sync.Mutex
	localName  string
	settings   bluecore.AdapterSetting
	secureAuto bool

	// per-link raw SMP channel monitors
	muSec sync.Mutex
	sec   map[uint16]*securityMonitor
	secWG sync.WaitGroup

	smpReplyTimeout time.Duration

	// configuration, fixed after Start
	keyDir         string
	connectTimeout time.Duration
	watchdogPeriod time.Duration
	discTrials     int
	discBackoff    time.Duration
	ioCap          bluecore.IOCapability
	privacyIRK     [16]byte
	privacy        bool
	errHandler     func(error)

	done    chan struct{}
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// New builds an adapter for the given local identity over the two command
// surfaces. Events are not consumed until Start.
func New(local bluecore.DeviceID, mc mgmt.Commander, lc hcilink.Commander, opts ...bluecore.Option) (*Adapter, error) {
	if !local.Valid() {
		return nil, errors.New("adapter: invalid local identity")
	}
	if mc == nil || lc == nil {
		return nil, errors.New("adapter: nil commander")
	}

	a := &Adapter{
		mgmt:            mc,
		link:            lc,
		localID:         local,
		listeners:       newListenerSet(),
		sec:             make(map[uint16]*securityMonitor),
		connectTimeout:  defaultConnectTimeout,
		watchdogPeriod:  defaultWatchdogPeriod,
		discTrials:      defaultDiscoveryTrials,
		discBackoff:     defaultDiscoveryPause,
		smpReplyTimeout: defaultSMPReplyTimeout,
		ioCap:           bluecore.IOCapNoInputNoOutput,
		done:            make(chan struct{}),
	}
	for _, o := range opts {
		if err := o(a); err != nil {
			return nil, errors.Wrap(err, "adapter option")
		}
	}

	a.reg = NewRegistry(mc, a)
	a.gate = newConnectionGate(a.connectTimeout, a.ioCap, mc.SetIOCapability)
	a.disc = newDiscoveryCoordinator(lc, a.discTrials, a.discBackoff, a.done)
	a.disc.pausingPending = func() bool { return a.reg.PausingPending() }
	a.disc.injectStop = a.injectDiscoveryStop
	return a, nil
}

// LocalID ...
func (a *Adapter) LocalID() bluecore.DeviceID {
	return a.localID
}

// LocalName is the controller name last reported by the kernel.
func (a *Adapter) LocalName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.localName
}

// Settings is the last reported controller setting mask.
func (a *Adapter) Settings() bluecore.AdapterSetting {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// Registry exposes the device registries, mainly for inspection.
func (a *Adapter) Registry() *Registry {
	return a.reg
}

// IdentityKeys implements irkSource from the persisted bins, so private
// addresses of bonded devices resolve even before their first key event of
// the session.
func (a *Adapter) IdentityKeys() []smp.IdentityResolvingKey {
	if a.keys == nil {
		return nil
	}
	var out []smp.IdentityResolvingKey
	for _, bin := range a.keys.All() {
		if bin.IRK != nil && bin.IRK.Valid() {
			out = append(out, *bin.IRK)
		}
	}
	return out
}

// Start opens the key store, applies privacy and capability configuration,
// and begins consuming both event streams.
func (a *Adapter) Start(mgmtEvents <-chan mgmt.Event, linkEvents <-chan hcilink.Event) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.New("adapter: closed")
	}
	if a.started {
		a.mu.Unlock()
		return errors.New("adapter: already started")
	}
	a.started = true
	a.mu.Unlock()

	if a.keyDir != "" {
		ks, err := keystore.Open(a.keyDir, a.localID)
		if err != nil {
			return errors.Wrap(err, "adapter: key store")
		}
		a.keys = ks
		logger.Infof("adapter: key store %s loaded, %d bond(s)", a.keyDir, ks.Len())
	}

	if st := a.mgmt.SetIOCapability(a.ioCap); !st.Ok() {
		logger.Warnf("adapter: set io capability: %v", st)
	}
	if a.privacy {
		if st := a.mgmt.SetPrivacy(a.privacyIRK); !st.Ok() {
			logger.Warnf("adapter: enable privacy: %v", st)
		}
	}

	a.wg.Add(3)
	go a.mgmtPump(mgmtEvents)
	go a.linkPump(linkEvents)
	go a.watchdogLoop(a.watchdogPeriod)
	return nil
}

// Close shuts the pumps and the watchdog down and releases any blocked
// connect waiters. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.done)
	a.closeMonitors()
	a.gate.releaseAny()
	a.gate.close()
	a.wg.Wait()
	return nil
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Adapter) callErrHandler(err error) {
	if a.errHandler != nil {
		a.errHandler(err)
	}
}

// StartDiscovery clears the discovered list and the pausing set, then starts
// scanning under the given policy. A scanner that is already running is not
// restarted; only the policy changes.
func (a *Adapter) StartDiscovery(policy bluecore.DiscoveryPolicy, params hcilink.ScanParams, filterDuplicates bool) bluecore.Status {
	if a.isClosed() {
		return bluecore.StatusClosed
	}
	a.reg.ClearPausing()
	if n := a.reg.ClearDiscovered(); n > 0 {
		logger.Debugf("adapter: dropped %d discovered device(s) on restart", n)
	}
	return a.disc.start(policy, params, filterDuplicates)
}

// StopDiscovery flips the policy to auto-off and stops the native scanner
// unless a pausing device still needs it.
func (a *Adapter) StopDiscovery() bluecore.Status {
	if a.isClosed() {
		return bluecore.StatusClosed
	}
	return a.disc.stop()
}

// DiscoveryPolicy ...
func (a *Adapter) DiscoveryPolicy() bluecore.DiscoveryPolicy {
	return a.disc.Policy()
}

// Discovering reports the meta discovery state.
func (a *Adapter) Discovering() bluecore.ScanType {
	return a.disc.MetaScan()
}

// Connect claims the single connection slot for the device and asks the
// kernel to establish the link. With wait set the call blocks for the slot
// up to the connect timeout; otherwise a busy slot returns StatusBusy. The
// slot is released by the resulting connected, failed or disconnected event,
// or here on a rejected command.
func (a *Adapter) Connect(id bluecore.DeviceID, wait bool) bluecore.Status {
	return a.ConnectWithCapability(id, wait, a.ioCap)
}

// ConnectWithCapability is Connect with a per-attempt IO capability. The
// override is applied while the slot is held and restored on release.
func (a *Adapter) ConnectWithCapability(id bluecore.DeviceID, wait bool, ioCap bluecore.IOCapability) bluecore.Status {
	if a.isClosed() {
		return bluecore.StatusClosed
	}
	if !id.Valid() {
		return bluecore.StatusInvalidParams
	}

	d := a.reg.FindShared(id)
	if d == nil {
		d = newDevice(id)
		a.reg.AddShared(d)
	}
	if d.Connected() {
		return bluecore.StatusSuccess
	}

	if st := a.gate.acquire(d, wait, ioCap); !st.Ok() {
		return st
	}
	d.mu.Lock()
	d.pairing.ioCap = ioCap
	d.mu.Unlock()

	if bin := a.findKeys(d.ID()); bin != nil {
		a.uploadKeys(d.ID(), bin)
	}
	st := a.mgmt.AddToAllowList(d.ID(), mgmt.ActionAutoConnect)
	if !st.Ok() {
		a.gate.release(d)
	}
	return st
}

// CancelConnect releases the connection slot and removes the pending
// auto-connect entry.
func (a *Adapter) CancelConnect(id bluecore.DeviceID) bluecore.Status {
	d := a.reg.FindShared(id)
	if d == nil || d.Connected() {
		return bluecore.StatusInvalidParams
	}
	st := a.mgmt.RemoveFromAllowList(id)
	a.gate.release(d)
	return st
}

// Disconnect tears the link to a connected device down.
func (a *Adapter) Disconnect(id bluecore.DeviceID, reason byte) bluecore.Status {
	if a.isClosed() {
		return bluecore.StatusClosed
	}
	d := a.reg.FindConnected(id)
	if d == nil {
		return bluecore.StatusNotConnected
	}
	if reason == 0 {
		reason = hciReasonRemoteUser
	}
	h := d.Handle()
	if h == 0 {
		return bluecore.StatusNotConnected
	}
	return a.link.Disconnect(h, reason)
}

// Pair starts a pairing handshake with a connected or known device. The
// outcome arrives through the event stream.
func (a *Adapter) Pair(id bluecore.DeviceID) bluecore.Status {
	if a.isClosed() {
		return bluecore.StatusClosed
	}
	d := a.reg.FindShared(id)
	if d == nil {
		return bluecore.StatusInvalidParams
	}
	if d.PairingState().InProgress() {
		return bluecore.StatusBusy
	}
	d.mu.Lock()
	d.pairing.ioCap = a.ioCap
	d.mu.Unlock()
	return a.mgmt.PairDevice(d.ID(), a.ioCap)
}

// Unpair removes the bond with a device: kernel state, persisted keys and
// the in-memory security record.
func (a *Adapter) Unpair(id bluecore.DeviceID) bluecore.Status {
	if a.isClosed() {
		return bluecore.StatusClosed
	}
	st := a.mgmt.Unpair(id, true)
	a.deleteKeys(id)
	if d := a.reg.FindShared(id); d != nil {
		a.resetPairing(d, time.Now())
	}
	return st
}

// StartOOB begins an out-of-band pairing exchange with the device and returns
// the local payload to hand to the peer over the external transport.
func (a *Adapter) StartOOB(id bluecore.DeviceID) (smp.OOBData, error) {
	if a.isClosed() {
		return smp.OOBData{}, errors.New("adapter: closed")
	}
	if !id.Valid() {
		return smp.OOBData{}, errors.New("adapter: invalid device")
	}
	d := a.reg.FindShared(id)
	if d == nil {
		d = newDevice(id)
		a.reg.AddShared(d)
	}
	x, err := smp.NewOOBExchange()
	if err != nil {
		return smp.OOBData{}, err
	}
	d.mu.Lock()
	d.pairing.oob = x
	d.mu.Unlock()
	return x.Local()
}

// FinishOOB folds the peer payload into the pending exchange, derives the
// bond and persists it, so the next connection encrypts as pre-paired.
func (a *Adapter) FinishOOB(id bluecore.DeviceID, peer smp.OOBData, initiator bool) error {
	d := a.reg.FindShared(id)
	if d == nil {
		return errors.New("adapter: unknown device")
	}
	d.mu.Lock()
	x := d.pairing.oob
	d.pairing.oob = nil
	d.mu.Unlock()
	if x == nil {
		return errors.New("adapter: no out-of-band exchange in progress")
	}

	ltk, err := x.Complete(peer, initiator, a.localID, d.ID())
	if err != nil {
		return err
	}
	if a.keys == nil {
		return errors.New("adapter: no key store")
	}
	bin := keystore.NewKeyBin(a.localID, d.ID())
	bin.SecLevel = bluecore.PairingModeOOB
	bin.IOCap = a.ioCap
	bin.LTK = &ltk
	if err := a.keys.Save(bin); err != nil {
		return err
	}
	a.uploadKeys(d.ID(), bin)
	return nil
}

// AddListener registers a listener for all devices and returns its handle.
func (a *Adapter) AddListener(l bluecore.Listener) (uuid.UUID, error) {
	return a.listeners.add(l, nil)
}

// AddDeviceListener registers a listener whose device-scoped callbacks are
// restricted to one device.
func (a *Adapter) AddDeviceListener(l bluecore.Listener, id bluecore.DeviceID) (uuid.UUID, error) {
	if !id.Valid() {
		return uuid.Nil, errors.New("adapter: invalid device filter")
	}
	return a.listeners.add(l, &id)
}

// RemoveListener ...
func (a *Adapter) RemoveListener(handle uuid.UUID) bool {
	return a.listeners.remove(handle)
}

// ListenerCount ...
func (a *Adapter) ListenerCount() int {
	return a.listeners.len()
}

// SetKeyStoreDir implements bluecore.AdapterOption.
func (a *Adapter) SetKeyStoreDir(dir string) error {
	a.keyDir = dir
	return nil
}

// SetConnectTimeout implements bluecore.AdapterOption.
func (a *Adapter) SetConnectTimeout(d time.Duration) error {
	if d <= 0 {
		return errors.New("adapter: connect timeout must be positive")
	}
	a.connectTimeout = d
	return nil
}

// SetPairingWatchdogPeriod implements bluecore.AdapterOption.
func (a *Adapter) SetPairingWatchdogPeriod(d time.Duration) error {
	if d <= 0 {
		return errors.New("adapter: watchdog period must be positive")
	}
	a.watchdogPeriod = d
	return nil
}

// SetDiscoveryRetry implements bluecore.AdapterOption.
func (a *Adapter) SetDiscoveryRetry(trials int, backoff time.Duration) error {
	if trials < 1 || backoff <= 0 {
		return errors.New("adapter: invalid discovery retry")
	}
	a.discTrials = trials
	a.discBackoff = backoff
	return nil
}

// SetIOCapability implements bluecore.AdapterOption.
func (a *Adapter) SetIOCapability(c bluecore.IOCapability) error {
	a.ioCap = c
	return nil
}

// SetPrivacy implements bluecore.AdapterOption.
func (a *Adapter) SetPrivacy(irk [16]byte) error {
	a.privacyIRK = irk
	a.privacy = true
	return nil
}

// SetErrorHandler implements bluecore.AdapterOption.
func (a *Adapter) SetErrorHandler(handler func(error)) error {
	a.errHandler = handler
	return nil
}
