package smp

// SMP PDU codes. Core Spec Vol 3, Part H, 3.3.
const (
	PairingRequest          = 0x01 // Pairing Request LE-U, ACL-U
	PairingResponse         = 0x02 // Pairing Response LE-U, ACL-U
	PairingConfirm          = 0x03 // Pairing Confirm LE-U
	PairingRandom           = 0x04 // Pairing Random LE-U
	PairingFailed           = 0x05 // Pairing Failed LE-U, ACL-U
	EncryptionInformation   = 0x06 // Encryption Information LE-U
	MasterIdentification    = 0x07 // Master Identification LE-U
	IdentityInformation     = 0x08 // Identity Information LE-U, ACL-U
	IdentityAddrInformation = 0x09 // Identity Address Information LE-U, ACL-U
	SigningInformation      = 0x0A // Signing Information LE-U, ACL-U
	SecurityRequest         = 0x0B // Security Request LE-U
	PairingPublicKey        = 0x0C // Pairing Public Key LE-U
	PairingDHKeyCheck       = 0x0D // Pairing DHKey Check LE-U
	PairingKeypress         = 0x0E // Pairing Keypress Notification LE-U
)

// Pairing-failed reason codes. Core spec v5.2, Vol 3, Part H, 3.5.5, Table 3.7.
const (
	ReasonPasskeyEntryFailed  = 0x01
	ReasonOOBNotAvailable     = 0x02
	ReasonAuthRequirements    = 0x03
	ReasonConfirmValueFailed  = 0x04
	ReasonPairingNotSupported = 0x05
	ReasonEncryptionKeySize   = 0x06
	ReasonCommandNotSupported = 0x07
	ReasonUnspecified         = 0x08
	ReasonRepeatedAttempts    = 0x09
	ReasonInvalidParameters   = 0x0A
	ReasonDHKeyCheckFailed    = 0x0B
	ReasonNumericCompFailed   = 0x0C
)

var failedReasons = []string{
	"reserved",
	"passkey entry failed",
	"oob not available",
	"authentication requirements",
	"confirm value failed",
	"pairing not supported",
	"encryption key size",
	"command not supported",
	"unspecified reason",
	"repeated attempts",
	"invalid parameters",
	"dhkey check failed",
	"numeric comparison failed",
	"BR/EDR pairing in progress",
	"cross-transport key derivation not allowed",
}

// ReasonString names a pairing-failed reason code.
func ReasonString(reason byte) string {
	if int(reason) < len(failedReasons) {
		return failedReasons[reason]
	}
	return "unknown"
}
