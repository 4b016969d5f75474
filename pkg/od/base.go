package od

import _ "embed"

//go:embed base.eds
var rawDefaultOd []byte

// Default returns the object dictionary embedded with the package: a
// minimal but representative CiA 301 set (identity, error register,
// heartbeat, SDO server/client parameters, a sample RPDO/TPDO) used by
// tests and as a starting point for nodes that don't ship their own EDS.
func Default() *ObjectDictionary {
	defaultOd, err := ParseV2(rawDefaultOd, 0)
	if err != nil {
		panic(err)
	}
	return defaultOd
}
