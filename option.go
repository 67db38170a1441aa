package bluecore

import "time"

// AdapterOption is the interface an adapter implements to accept
// configuration options.
type AdapterOption interface {
	SetKeyStoreDir(dir string) error
	SetConnectTimeout(d time.Duration) error
	SetPairingWatchdogPeriod(d time.Duration) error
	SetDiscoveryRetry(trials int, backoff time.Duration) error
	SetIOCapability(c IOCapability) error
	SetPrivacy(irk [16]byte) error
	SetErrorHandler(handler func(error)) error
}

// An Option is a configuration function, which configures the adapter.
type Option func(AdapterOption) error

// OptKeyStoreDir sets the directory holding persisted security key bins.
func OptKeyStoreDir(dir string) Option {
	return func(opt AdapterOption) error {
		return opt.SetKeyStoreDir(dir)
	}
}

// OptConnectTimeout bounds how long a blocking connect-gate acquisition may
// wait.
func OptConnectTimeout(d time.Duration) Option {
	return func(opt AdapterOption) error {
		return opt.SetConnectTimeout(d)
	}
}

// OptPairingWatchdogPeriod sets the tick period of the pairing watchdog.
func OptPairingWatchdogPeriod(d time.Duration) Option {
	return func(opt AdapterOption) error {
		return opt.SetPairingWatchdogPeriod(d)
	}
}

// OptDiscoveryRetry bounds the background re-enable of scanning.
func OptDiscoveryRetry(trials int, backoff time.Duration) Option {
	return func(opt AdapterOption) error {
		return opt.SetDiscoveryRetry(trials, backoff)
	}
}

// OptIOCapability sets the default IO capability used outside connect-gate
// overrides.
func OptIOCapability(c IOCapability) Option {
	return func(opt AdapterOption) error {
		return opt.SetIOCapability(c)
	}
}

// OptPrivacy sets the local identity resolving key and enables privacy.
func OptPrivacy(irk [16]byte) Option {
	return func(opt AdapterOption) error {
		return opt.SetPrivacy(irk)
	}
}

// OptErrorHandler sets the handler for asynchronous internal errors.
func OptErrorHandler(handler func(error)) Option {
	return func(opt AdapterOption) error {
		return opt.SetErrorHandler(handler)
	}
}
