package adapter

import (
	"sync"
	"time"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/hcilink"
)

// discoveryCoordinator reconciles the meta scan state (what the application
// asked for) with the native scan state (what the controller reports). The
// two diverge while a pause policy keeps discovery logically on with the
// radio stopped, or while a native disable races an app-level start.
type discoveryCoordinator struct {
	mu     sync.Mutex
	policy bluecore.DiscoveryPolicy
	meta   bluecore.ScanType
	native bluecore.ScanType
	params hcilink.ScanParams
	dedup  bool

	link hcilink.Commander

	// pausingPending and injectStop reach back into the owning adapter;
	// both are called with the coordinator lock released.
	pausingPending func() bool
	injectStop     func()

	maxTrials int
	backoff   time.Duration

	muRetry      sync.Mutex
	retryRunning bool
	done         chan struct{}
}

func newDiscoveryCoordinator(link hcilink.Commander, trials int, backoff time.Duration, done chan struct{}) *discoveryCoordinator {
	return &discoveryCoordinator{
		policy:    bluecore.DiscoveryAutoOff,
		link:      link,
		maxTrials: trials,
		backoff:   backoff,
		done:      done,
	}
}

// Policy ...
func (c *discoveryCoordinator) Policy() bluecore.DiscoveryPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// MetaScan is the application-level discovery state.
func (c *discoveryCoordinator) MetaScan() bluecore.ScanType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// NativeScan is the controller-level discovery state.
func (c *discoveryCoordinator) NativeScan() bluecore.ScanType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.native
}

// start begins discovery under the given policy. When the native scanner is
// already running only the policy is updated; no duplicate enable command is
// issued. The meta state follows the native discovering event, not the
// command.
func (c *discoveryCoordinator) start(policy bluecore.DiscoveryPolicy, params hcilink.ScanParams, filterDuplicates bool) bluecore.Status {
	c.mu.Lock()
	c.policy = policy
	c.params = params
	c.dedup = filterDuplicates
	running := c.native.Has(bluecore.ScanTypeLE)
	c.mu.Unlock()

	if running {
		return bluecore.StatusSuccess
	}
	if st := c.link.SetScanParams(params); !st.Ok() {
		return st
	}
	return c.link.SetScanEnable(true, filterDuplicates)
}

// stop flips the policy to auto-off. The native scanner is only disabled
// when nothing else still needs it; if a pausing device is pending, or the
// radio is already off, a local discovering=false transition is injected so
// listeners observe a consistent stop either way.
func (c *discoveryCoordinator) stop() bluecore.Status {
	pending := c.pausingPending != nil && c.pausingPending()

	c.mu.Lock()
	c.policy = bluecore.DiscoveryAutoOff
	running := c.native.Has(bluecore.ScanTypeLE)
	c.mu.Unlock()

	if !running || pending {
		if c.injectStop != nil {
			c.injectStop()
		}
		return bluecore.StatusSuccess
	}
	return c.link.SetScanEnable(false, false)
}

// applyNative folds a controller discovering event into both scan states and
// reports the meta transition, if any, plus whether the retry task should
// re-enable scanning.
func (c *discoveryCoordinator) applyNative(scan bluecore.ScanType, enabled bool) (meta, changed bluecore.ScanType, retry bool) {
	pending := c.pausingPending != nil && c.pausingPending()

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.meta
	if enabled {
		c.native = c.native.Set(scan)
		c.meta = c.meta.Set(scan)
	} else {
		c.native = c.native.Clear(scan)
		if scan.Has(bluecore.ScanTypeLE) && c.policyKeepsScanLocked() {
			// Discovery logically continues; the radio stopped as a
			// side effect of another operation. Unless a pausing device
			// wanted it stopped, re-enable in the background.
			retry = !pending
		} else {
			c.meta = c.meta.Clear(scan)
		}
	}
	return c.meta, prev ^ c.meta, retry
}

// forceMetaOff clears the meta LE bit without touching the native state.
// Used for locally injected stop transitions.
func (c *discoveryCoordinator) forceMetaOff() (meta, changed bluecore.ScanType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.meta
	c.meta = c.meta.Clear(bluecore.ScanTypeLE)
	return c.meta, prev ^ c.meta
}

// policyKeepsScanLocked reports whether the current policy wants scanning to
// survive an external native disable. Caller holds c.mu.
func (c *discoveryCoordinator) policyKeepsScanLocked() bool {
	switch c.policy {
	case bluecore.DiscoveryAlwaysOn,
		bluecore.DiscoveryPauseConnectedUntilDisconnected,
		bluecore.DiscoveryPauseConnectedUntilReady,
		bluecore.DiscoveryPauseConnectedUntilPaired:
		return c.meta.Has(bluecore.ScanTypeLE)
	}
	return false
}

// shouldResume reports whether the radio should be turned back on now: the
// meta state wants LE scanning, the native scanner is off, and no pausing
// device is still pending.
func (c *discoveryCoordinator) shouldResume() bool {
	c.mu.Lock()
	want := c.meta.Has(bluecore.ScanTypeLE) && !c.native.Has(bluecore.ScanTypeLE) && c.policy != bluecore.DiscoveryAutoOff
	c.mu.Unlock()
	if !want {
		return false
	}
	return c.pausingPending == nil || !c.pausingPending()
}

// resume re-enables the native scanner, falling back to the bounded retry
// task on failure.
func (c *discoveryCoordinator) resume() {
	c.mu.Lock()
	dedup := c.dedup
	c.mu.Unlock()
	if st := c.link.SetScanEnable(true, dedup); !st.Ok() {
		logger.Warnf("discovery: resume scan failed: %v", st)
		c.ensureRetry()
	}
}

// disableDeferred issues the native disable that stop deferred while a
// pausing device was still pending. No-op unless the policy is auto-off with
// the meta scan off and the radio still on.
func (c *discoveryCoordinator) disableDeferred() {
	c.mu.Lock()
	want := c.policy == bluecore.DiscoveryAutoOff &&
		!c.meta.Has(bluecore.ScanTypeLE) && c.native.Has(bluecore.ScanTypeLE)
	c.mu.Unlock()
	if !want {
		return
	}
	if st := c.link.SetScanEnable(false, false); !st.Ok() {
		logger.Warnf("discovery: deferred scan disable failed: %v", st)
	}
}

// ensureRetry starts the bounded re-enable task if it is not already
// running.
func (c *discoveryCoordinator) ensureRetry() {
	c.muRetry.Lock()
	if c.retryRunning {
		c.muRetry.Unlock()
		return
	}
	c.retryRunning = true
	c.muRetry.Unlock()

	go c.retryLoop()
}

func (c *discoveryCoordinator) retryLoop() {
	defer func() {
		c.muRetry.Lock()
		c.retryRunning = false
		c.muRetry.Unlock()
	}()

	for trial := 0; trial < c.maxTrials; trial++ {
		select {
		case <-c.done:
			return
		case <-time.After(c.backoff):
		}

		if !c.shouldResume() {
			return
		}
		c.mu.Lock()
		dedup := c.dedup
		c.mu.Unlock()
		if st := c.link.SetScanEnable(true, dedup); st.Ok() {
			return
		}
		logger.Warnf("discovery: scan re-enable trial %d/%d failed", trial+1, c.maxTrials)
	}
	logger.Errorf("discovery: giving up re-enabling scan after %d trials", c.maxTrials)
}

// checkConsistency flags the one combination that is a real defect: policy
// auto-off with meta and native disagreeing about LE scanning. Pause
// policies diverge on purpose.
func (c *discoveryCoordinator) checkConsistency() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.policy != bluecore.DiscoveryAutoOff {
		return true
	}
	if c.meta.Has(bluecore.ScanTypeLE) == c.native.Has(bluecore.ScanTypeLE) {
		return true
	}
	logger.Errorf("discovery: inconsistent scan state under auto-off: meta=%v native=%v", c.meta, c.native)
	return false
}
