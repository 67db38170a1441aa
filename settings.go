package bluecore

import "strings"

// AdapterSetting is the controller setting bitmask reported by the management
// channel's new-settings event.
type AdapterSetting uint32

const (
	SettingPowered AdapterSetting = 1 << iota
	SettingConnectable
	SettingFastConnectable
	SettingDiscoverable
	SettingBondable
	SettingLinkSecurity
	SettingSSP
	SettingBREDR
	SettingHS
	SettingLE
	SettingAdvertising
	SettingSecureConn
	SettingDebugKeys
	SettingPrivacy
	SettingConfiguration
	SettingStaticAddr
)

var settingNames = []struct {
	bit  AdapterSetting
	name string
}{
	{SettingPowered, "powered"},
	{SettingConnectable, "connectable"},
	{SettingFastConnectable, "fast-connectable"},
	{SettingDiscoverable, "discoverable"},
	{SettingBondable, "bondable"},
	{SettingLinkSecurity, "link-security"},
	{SettingSSP, "ssp"},
	{SettingBREDR, "bredr"},
	{SettingHS, "hs"},
	{SettingLE, "le"},
	{SettingAdvertising, "advertising"},
	{SettingSecureConn, "secure-conn"},
	{SettingDebugKeys, "debug-keys"},
	{SettingPrivacy, "privacy"},
	{SettingConfiguration, "configuration"},
	{SettingStaticAddr, "static-addr"},
}

// Has reports whether all bits of o are set.
func (s AdapterSetting) Has(o AdapterSetting) bool {
	return s&o == o
}

func (s AdapterSetting) String() string {
	if s == 0 {
		return "[]"
	}
	var ss []string
	for _, sn := range settingNames {
		if s.Has(sn.bit) {
			ss = append(ss, sn.name)
		}
	}
	return "[" + strings.Join(ss, " ") + "]"
}
