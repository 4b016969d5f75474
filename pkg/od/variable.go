package od

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

// Variable is the data representation for a "VAR" or "DOMAIN" object,
// and for each sub entry of a "RECORD" or "ARRAY" object.
//
// Besides the raw byte value used for SDO/PDO transfer, a Variable can
// carry a physical-unit scaling factor, a set of named value
// descriptions (enum-like), and named bit definitions, mirroring what
// a CiA 301 EDS can express and what client tooling built on top of
// this package (desc/phys accessors) needs.
type Variable struct {
	mu sync.RWMutex

	SubIndex  uint8
	Name      string
	DataType  uint8
	Attribute uint8

	value        []byte
	valueDefault []byte
	highLimit    []byte
	lowLimit     []byte

	// Unit is the physical unit of the value, e.g. "mA". Informational,
	// not enforced.
	Unit string
	// Factor scales the raw integer value into a physical one:
	// phys = raw * Factor. Defaults to 1.
	Factor float64
	// ValueDescriptions maps raw integer values to a human name, e.g.
	// {0: "disabled", 1: "enabled"}.
	ValueDescriptions map[int64]string
	// BitDefinitions maps a named bit field to the bit indexes (LSB 0)
	// it spans, e.g. {"error": {0, 1, 2}}.
	BitDefinitions map[string][]int
}

// DataLength returns the current number of bytes held by the variable.
func (variable *Variable) DataLength() uint32 {
	return uint32(len(variable.value))
}

// DefaultValue returns the variable's default value as raw bytes.
func (variable *Variable) DefaultValue() []byte {
	return variable.valueDefault
}

// AddValueDescription registers a human-readable name for a raw value.
func (variable *Variable) AddValueDescription(value int64, description string) {
	if variable.ValueDescriptions == nil {
		variable.ValueDescriptions = map[int64]string{}
	}
	variable.ValueDescriptions[value] = description
}

// AddBitDefinition registers a named bit field spanning the given
// bit indexes (LSB 0).
func (variable *Variable) AddBitDefinition(name string, bits []int) {
	if variable.BitDefinitions == nil {
		variable.BitDefinitions = map[string][]int{}
	}
	variable.BitDefinitions[name] = bits
}

// Uint8 reads the variable value as an UNSIGNED8 or BOOLEAN.
// It returns [ErrTypeMismatch] if the underlying data type does not match.
func (variable *Variable) Uint8() (uint8, error) {
	if variable.DataType != UNSIGNED8 && variable.DataType != BOOLEAN {
		return 0, ErrTypeMismatch
	}
	raw, err := DecodeToTypeExact(variable.value, variable.DataType)
	if err != nil {
		return 0, err
	}
	return raw.(uint8), nil
}

// Uint16 reads the variable value as an UNSIGNED16.
func (variable *Variable) Uint16() (uint16, error) {
	if variable.DataType != UNSIGNED16 {
		return 0, ErrTypeMismatch
	}
	raw, err := DecodeToTypeExact(variable.value, variable.DataType)
	if err != nil {
		return 0, err
	}
	return raw.(uint16), nil
}

// Uint32 reads the variable value as an UNSIGNED32.
func (variable *Variable) Uint32() (uint32, error) {
	if variable.DataType != UNSIGNED32 {
		return 0, ErrTypeMismatch
	}
	raw, err := DecodeToTypeExact(variable.value, variable.DataType)
	if err != nil {
		return 0, err
	}
	return raw.(uint32), nil
}

// Uint64 reads the variable value as an UNSIGNED64.
func (variable *Variable) Uint64() (uint64, error) {
	if variable.DataType != UNSIGNED64 {
		return 0, ErrTypeMismatch
	}
	raw, err := DecodeToTypeExact(variable.value, variable.DataType)
	if err != nil {
		return 0, err
	}
	return raw.(uint64), nil
}

// Int8 reads the variable value as an INTEGER8.
func (variable *Variable) Int8() (int8, error) {
	if variable.DataType != INTEGER8 {
		return 0, ErrTypeMismatch
	}
	raw, err := DecodeToTypeExact(variable.value, variable.DataType)
	if err != nil {
		return 0, err
	}
	return raw.(int8), nil
}

// Int16 reads the variable value as an INTEGER16.
func (variable *Variable) Int16() (int16, error) {
	if variable.DataType != INTEGER16 {
		return 0, ErrTypeMismatch
	}
	raw, err := DecodeToTypeExact(variable.value, variable.DataType)
	if err != nil {
		return 0, err
	}
	return raw.(int16), nil
}

// Int32 reads the variable value as an INTEGER32.
func (variable *Variable) Int32() (int32, error) {
	if variable.DataType != INTEGER32 {
		return 0, ErrTypeMismatch
	}
	raw, err := DecodeToTypeExact(variable.value, variable.DataType)
	if err != nil {
		return 0, err
	}
	return raw.(int32), nil
}

// Int64 reads the variable value as an INTEGER64.
func (variable *Variable) Int64() (int64, error) {
	if variable.DataType != INTEGER64 {
		return 0, ErrTypeMismatch
	}
	raw, err := DecodeToTypeExact(variable.value, variable.DataType)
	if err != nil {
		return 0, err
	}
	return raw.(int64), nil
}

// Float32 reads the variable value as a REAL32.
func (variable *Variable) Float32() (float32, error) {
	if variable.DataType != REAL32 {
		return 0, ErrTypeMismatch
	}
	raw, err := DecodeToTypeExact(variable.value, variable.DataType)
	if err != nil {
		return 0, err
	}
	return raw.(float32), nil
}

// Float64 reads the variable value as a REAL64.
func (variable *Variable) Float64() (float64, error) {
	if variable.DataType != REAL64 {
		return 0, ErrTypeMismatch
	}
	raw, err := DecodeToTypeExact(variable.value, variable.DataType)
	if err != nil {
		return 0, err
	}
	return raw.(float64), nil
}

// Bool reads the variable value as a BOOLEAN.
func (variable *Variable) Bool() (bool, error) {
	if variable.DataType != BOOLEAN {
		return false, ErrTypeMismatch
	}
	raw, err := variable.Uint8()
	if err != nil {
		return false, err
	}
	return raw != 0, nil
}

// Any decodes the variable's value into its CANopen "base" Go type:
// uint64 for any unsigned integer width, int64 for any signed integer
// width, float64 for REAL32/REAL64, or string for VISIBLE_STRING/
// OCTET_STRING. Use AnyExact for the variable's precise Go type instead.
func (variable *Variable) Any() (any, error) {
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	return DecodeToType(variable.value, variable.DataType)
}

// AnyExact decodes the variable's value into its exact Go type
// (uint8/16/32/64, int8/16/32/64, float32/64 or string).
func (variable *Variable) AnyExact() (any, error) {
	return variable.DecodeRaw()
}

// Bytes returns a copy of the variable's current raw value.
func (variable *Variable) Bytes() []byte {
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	out := make([]byte, len(variable.value))
	copy(out, variable.value)
	return out
}

// Uint reads any unsigned integer data type as a uint64.
func (variable *Variable) Uint() (uint64, error) {
	raw, err := variable.Any()
	if err != nil {
		return 0, err
	}
	v, ok := raw.(uint64)
	if !ok {
		return 0, ErrTypeMismatch
	}
	return v, nil
}

// Int reads any signed integer data type as an int64.
func (variable *Variable) Int() (int64, error) {
	raw, err := variable.Any()
	if err != nil {
		return 0, err
	}
	v, ok := raw.(int64)
	if !ok {
		return 0, ErrTypeMismatch
	}
	return v, nil
}

// Float reads a REAL32 or REAL64 data type as a float64.
func (variable *Variable) Float() (float64, error) {
	raw, err := variable.Any()
	if err != nil {
		return 0, err
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, ErrTypeMismatch
	}
	return v, nil
}

// String reads a VISIBLE_STRING or OCTET_STRING data type.
func (variable *Variable) String() (string, error) {
	raw, err := variable.Any()
	if err != nil {
		return "", err
	}
	v, ok := raw.(string)
	if !ok {
		return "", ErrTypeMismatch
	}
	return v, nil
}

// PutAnyExact writes value, whose exact Go type must match the
// variable's data type (the same shape AnyExact returns).
func (variable *Variable) PutAnyExact(value any) error {
	return variable.EncodeRaw(value)
}

// PutBytes overwrites the variable's raw value from data. Only the
// length is checked against the variable's current width; no type
// conversion is attempted, matching the AttributeStr "shorter write
// zero-fills" exception handled upstream in the SDO/PDO write path.
func (variable *Variable) PutBytes(data []byte) error {
	variable.mu.Lock()
	defer variable.mu.Unlock()
	if len(data) != len(variable.value) {
		return ErrTypeMismatch
	}
	copy(variable.value, data)
	return nil
}

// DecodeRaw decodes the variable's value into its exact Go type
// (uint8/16/32/64, int8/16/32/64, float32/64 or string, depending on
// the variable's data type).
func (variable *Variable) DecodeRaw() (any, error) {
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	return DecodeToTypeExact(variable.value, variable.DataType)
}

// EncodeRaw overwrites the variable's value in place from a concrete
// Go value whose type must match the variable's data type.
func (variable *Variable) EncodeRaw(value any) error {
	variable.mu.Lock()
	defer variable.mu.Unlock()
	return EncodeFromTypeExactToBuffer(value, variable.DataType, variable.value)
}

// DecodePhys returns the physical value of the variable, i.e. the raw
// value scaled by Factor. Non-numeric data types are returned
// unscaled, matching DecodeRaw.
func (variable *Variable) DecodePhys() (float64, error) {
	raw, err := variable.decodeNumeric()
	if err != nil {
		return 0, err
	}
	factor := variable.Factor
	if factor == 0 {
		factor = 1
	}
	return raw * factor, nil
}

// EncodePhys writes a physical value, converting it back to raw units
// by dividing out Factor before encoding.
func (variable *Variable) EncodePhys(phys float64) error {
	factor := variable.Factor
	if factor == 0 {
		factor = 1
	}
	raw := phys / factor
	return variable.encodeNumeric(raw)
}

// DecodeDesc returns the human-readable description of the variable's
// current raw value, looked up in ValueDescriptions.
func (variable *Variable) DecodeDesc() (string, error) {
	raw, err := variable.decodeNumeric()
	if err != nil {
		return "", err
	}
	if len(variable.ValueDescriptions) == 0 {
		return "", fmt.Errorf("no value descriptions for %s", variable.Name)
	}
	description, ok := variable.ValueDescriptions[int64(raw)]
	if !ok {
		return "", fmt.Errorf("no value description for %v", raw)
	}
	return description, nil
}

// EncodeDesc writes the raw value whose description matches desc.
func (variable *Variable) EncodeDesc(desc string) error {
	if len(variable.ValueDescriptions) == 0 {
		return fmt.Errorf("no value descriptions for %s", variable.Name)
	}
	for value, description := range variable.ValueDescriptions {
		if description == desc {
			return variable.encodeNumeric(float64(value))
		}
	}
	return fmt.Errorf("no value corresponds to %q", desc)
}

// DecodeBits extracts a sub field from the variable's raw value,
// given either an explicit list of bit indexes or the name of a
// registered bit definition.
func (variable *Variable) DecodeBits(bits any) (uint64, error) {
	indexes, err := variable.resolveBits(bits)
	if err != nil {
		return 0, err
	}
	raw, err := variable.decodeNumeric()
	if err != nil {
		return 0, err
	}
	value := uint64(raw)
	var mask uint64
	min := indexes[0]
	for _, bit := range indexes {
		mask |= 1 << uint(bit)
		if bit < min {
			min = bit
		}
	}
	return (value & mask) >> uint(min), nil
}

// EncodeBits writes bitValue into the sub field identified by bits
// (either explicit bit indexes or a registered bit definition name),
// leaving the rest of the raw value untouched.
func (variable *Variable) EncodeBits(bits any, bitValue uint64) error {
	indexes, err := variable.resolveBits(bits)
	if err != nil {
		return err
	}
	raw, err := variable.decodeNumeric()
	if err != nil {
		return err
	}
	original := uint64(raw)
	var mask uint64
	min := indexes[0]
	for _, bit := range indexes {
		mask |= 1 << uint(bit)
		if bit < min {
			min = bit
		}
	}
	original &^= mask
	original |= (bitValue << uint(min)) & mask
	return variable.encodeNumeric(float64(original))
}

func (variable *Variable) resolveBits(bits any) ([]int, error) {
	switch b := bits.(type) {
	case string:
		indexes, ok := variable.BitDefinitions[b]
		if !ok {
			return nil, fmt.Errorf("no bit definition named %q", b)
		}
		return indexes, nil
	case []int:
		if len(b) == 0 {
			return nil, ErrDevIncompat
		}
		return b, nil
	case int:
		return []int{b}, nil
	default:
		return nil, ErrDevIncompat
	}
}

// decodeNumeric decodes the variable's raw value as a float64, used as
// the common representation for phys/desc/bits accessors.
func (variable *Variable) decodeNumeric() (float64, error) {
	raw, err := DecodeToType(variable.value, variable.DataType)
	if err != nil {
		return 0, err
	}
	switch v := raw.(type) {
	case uint64:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, ErrTypeMismatch
	}
}

// encodeNumeric encodes a float64 back into the variable's raw value,
// respecting the variable's concrete data type; the variable's min/max
// limits are not checked.
func (variable *Variable) encodeNumeric(value float64) error {
	if width, _, signed, ok := byteWidth(variable.DataType); ok {
		if signed {
			return variable.EncodeRaw(clampSigned(int64(value), width))
		}
		return variable.EncodeRaw(clampUnsigned(uint64(value), width))
	}
	switch variable.DataType {
	case REAL32:
		return variable.EncodeRaw(float32(value))
	case REAL64:
		return variable.EncodeRaw(value)
	default:
		return ErrTypeMismatch
	}
}

func clampSigned(v int64, width int) any {
	switch width {
	case 1:
		return int8(v)
	case 2:
		return int16(v)
	case 4:
		return int32(v)
	default:
		return v
	}
}

func clampUnsigned(v uint64, width int) any {
	switch width {
	case 1:
		return uint8(v)
	case 2:
		return uint16(v)
	case 4:
		return uint32(v)
	default:
		return v
	}
}

// NewVariableFromSection creates a [Variable] from an EDS ini section.
func NewVariableFromSection(
	section *ini.Section,
	name string,
	nodeId uint8,
	index uint16,
	subindex uint8,
) (*Variable, error) {

	variable := &Variable{
		Name:     name,
		SubIndex: subindex,
		Factor:   1,
	}

	// Get AccessType
	accessType, err := section.GetKey("AccessType")
	if err != nil {
		return nil, fmt.Errorf("failed to get 'AccessType' for %x : %x", index, subindex)
	}

	// Get PDOMapping to know if pdo mappable
	var pdoMapping bool
	if pM, err := section.GetKey("PDOMapping"); err == nil {
		pdoMapping, err = pM.Bool()
		if err != nil {
			return nil, err
		}
	} else {
		pdoMapping = true
	}

	dataType, err := strconv.ParseInt(section.Key("DataType").Value(), 0, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to parse 'DataType' for %x : %x, because %v", index, subindex, err)
	}
	variable.DataType = byte(dataType)
	variable.Attribute = EncodeAttribute(accessType.String(), pdoMapping, variable.DataType)

	if highLimit, err := section.GetKey("HighLimit"); err == nil {
		variable.highLimit, err = EncodeFromString(highLimit.Value(), variable.DataType, 0)
		if err != nil {
			_logger.Warn("error parsing HighLimit",
				"index", fmt.Sprintf("x%x", index),
				"subindex", fmt.Sprintf("x%x", subindex),
				"error", err,
			)
		}
	}

	if lowLimit, err := section.GetKey("LowLimit"); err == nil {
		variable.lowLimit, err = EncodeFromString(lowLimit.Value(), variable.DataType, 0)
		if err != nil {
			_logger.Warn("error parsing LowLimit",
				"index", fmt.Sprintf("x%x", index),
				"subindex", fmt.Sprintf("x%x", subindex),
				"error", err,
			)
		}
	}

	if unit, err := section.GetKey("Unit"); err == nil {
		variable.Unit = unit.Value()
	}

	if factor, err := section.GetKey("Factor"); err == nil {
		if parsed, ferr := strconv.ParseFloat(factor.Value(), 64); ferr == nil && parsed != 0 {
			variable.Factor = parsed
		}
	}

	for _, key := range section.Keys() {
		if !strings.HasPrefix(key.Name(), "ValueDescription") {
			continue
		}
		suffix := strings.TrimPrefix(key.Name(), "ValueDescription")
		parsed, perr := strconv.ParseInt(suffix, 0, 64)
		if perr != nil {
			continue
		}
		variable.AddValueDescription(parsed, key.Value())
	}

	if defaultValue, err := section.GetKey("DefaultValue"); err == nil {
		defaultValueStr := defaultValue.Value()
		// If $NODEID is in default value then remove it, and add it afterwards
		if strings.Contains(defaultValueStr, "$NODEID") {
			re := regexp.MustCompile(`\+?\$NODEID\+?`)
			defaultValueStr = re.ReplaceAllString(defaultValueStr, "")
		} else {
			nodeId = 0
		}
		variable.valueDefault, err = EncodeFromString(defaultValueStr, variable.DataType, nodeId)
		if err != nil {
			return nil, fmt.Errorf("failed to parse 'DefaultValue' for x%x|x%x, because %v (datatype :x%x)", index, subindex, err, variable.DataType)
		}
		variable.value = make([]byte, len(variable.valueDefault))
		copy(variable.value, variable.valueDefault)
	}

	return variable, nil
}

// NewVariable creates a new variable programmatically, encoding value
// (given as a string, in the same format as an EDS DefaultValue) per
// datatype.
func NewVariable(
	subindex uint8,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Variable, error) {
	encoded, err := EncodeFromString(value, datatype, 0)
	if err != nil {
		return nil, err
	}
	encodedCopy := make([]byte, len(encoded))
	copy(encodedCopy, encoded)
	variable := &Variable{
		SubIndex:     subindex,
		Name:         name,
		value:        encoded,
		valueDefault: encodedCopy,
		Attribute:    attribute,
		DataType:     datatype,
		Factor:       1,
	}
	return variable, nil
}
