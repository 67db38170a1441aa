package bluecore

import "fmt"

// PairingState is the SMP pairing progress of one remote device as tracked by
// the adapter's pairing state machine.
type PairingState int

const (
	// PairingNone: no pairing in progress and no terminal state pending.
	PairingNone PairingState = iota
	// PairingNumericCompareExpected: user must confirm a displayed value.
	PairingNumericCompareExpected
	// PairingPasskeyExpected: user must enter a passkey.
	PairingPasskeyExpected
	// PairingPasskeyNotify: local side displays a passkey for remote entry.
	PairingPasskeyNotify
	// PairingKeyDistribution: keys are being exchanged; watchdog-guarded.
	PairingKeyDistribution
	// PairingCompleted: terminal, successful.
	PairingCompleted
	// PairingFailed: terminal, unsuccessful.
	PairingFailed
)

func (s PairingState) String() string {
	switch s {
	case PairingNone:
		return "none"
	case PairingNumericCompareExpected:
		return "numeric-compare-expected"
	case PairingPasskeyExpected:
		return "passkey-expected"
	case PairingPasskeyNotify:
		return "passkey-notify"
	case PairingKeyDistribution:
		return "key-distribution"
	case PairingCompleted:
		return "completed"
	case PairingFailed:
		return "failed"
	}
	return fmt.Sprintf("pairingstate(%d)", int(s))
}

// InProgress reports whether the state is neither idle nor terminal.
func (s PairingState) InProgress() bool {
	switch s {
	case PairingNumericCompareExpected, PairingPasskeyExpected,
		PairingPasskeyNotify, PairingKeyDistribution:
		return true
	}
	return false
}

// Terminal reports whether the state is COMPLETED or FAILED.
func (s PairingState) Terminal() bool {
	return s == PairingCompleted || s == PairingFailed
}

// PairingMode records how the security of a link was established.
type PairingMode int

const (
	PairingModeNone PairingMode = iota
	// PairingModePrePaired: stored keys from an earlier pairing were reused.
	PairingModePrePaired
	// PairingModeJustWorks: fresh pairing without user interaction.
	PairingModeJustWorks
	// PairingModePasskeyEntry: fresh pairing with a typed passkey.
	PairingModePasskeyEntry
	// PairingModeNumericCompare: fresh pairing with numeric comparison.
	PairingModeNumericCompare
	// PairingModeOOB: keys derived over an out-of-band exchange.
	PairingModeOOB
)

func (m PairingMode) String() string {
	switch m {
	case PairingModePrePaired:
		return "pre-paired"
	case PairingModeJustWorks:
		return "just-works"
	case PairingModePasskeyEntry:
		return "passkey-entry"
	case PairingModeNumericCompare:
		return "numeric-compare"
	case PairingModeOOB:
		return "oob"
	}
	return "none"
}

// Fresh reports whether the mode denotes a newly negotiated pairing rather
// than reuse of stored keys.
func (m PairingMode) Fresh() bool {
	switch m {
	case PairingModeJustWorks, PairingModePasskeyEntry, PairingModeNumericCompare, PairingModeOOB:
		return true
	}
	return false
}

// IOCapability is the local input/output capability announced during pairing.
// Core Spec Vol 3, Part H, 2.3.2.
type IOCapability byte

const (
	IOCapDisplayOnly     IOCapability = 0x00
	IOCapDisplayYesNo    IOCapability = 0x01
	IOCapKeyboardOnly    IOCapability = 0x02
	IOCapNoInputNoOutput IOCapability = 0x03
	IOCapKeyboardDisplay IOCapability = 0x04
)

func (c IOCapability) String() string {
	switch c {
	case IOCapDisplayOnly:
		return "display-only"
	case IOCapDisplayYesNo:
		return "display-yes-no"
	case IOCapKeyboardOnly:
		return "keyboard-only"
	case IOCapNoInputNoOutput:
		return "no-input-no-output"
	case IOCapKeyboardDisplay:
		return "keyboard-display"
	}
	return fmt.Sprintf("iocap(%d)", byte(c))
}
