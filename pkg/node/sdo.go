package node

import "github.com/canfieldbus/gocanopen/pkg/od"

// readVariable looks up index/subindex in the node's object dictionary and
// applies get to the resulting Variable. All BaseNode.ReadX accessors below
// are thin instantiations of this, since the lookup-then-decode shape is
// identical and only the decode step (get) changes.
func readVariable[T any](node *BaseNode, index any, subindex any, get func(*od.Variable) (T, error)) (T, error) {
	var zero T
	entry := node.od.Index(index)
	odVar, err := entry.SubIndex(subindex)
	if err != nil {
		return zero, err
	}
	return get(odVar)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns value as actual OD "base" datatype
// i.e. one of : uint64, int64, float64, string, []byte
func (node *BaseNode) ReadAny(index any, subindex any) (any, error) {
	return readVariable(node, index, subindex, (*od.Variable).Any)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns the exact OD datatype :
// i.e. one of : uint8, ..., uint64, int8, ..., int64,
// float32, float64, string, []byte
func (node *BaseNode) ReadAnyExact(index any, subindex any) (any, error) {
	return readVariable(node, index, subindex, (*od.Variable).AnyExact)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns a copy of the OD value as raw []byte
func (node *BaseNode) ReadBytes(index any, subindex any) ([]byte, error) {
	return readVariable(node, index, subindex, func(v *od.Variable) ([]byte, error) {
		return v.Bytes(), nil
	})
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns as bool
func (node *BaseNode) ReadBool(index any, subindex any) (bool, error) {
	return readVariable(node, index, subindex, (*od.Variable).Bool)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns uint8, uint16, uint32, uint64 value as uint64
func (node *BaseNode) ReadUint(index any, subindex any) (uint64, error) {
	return readVariable(node, index, subindex, (*od.Variable).Uint)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns int8, int16, int32, int64 value as int64
func (node *BaseNode) ReadInt(index any, subindex any) (int64, error) {
	return readVariable(node, index, subindex, (*od.Variable).Int)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns float32, float64 value as float64
func (node *BaseNode) ReadFloat(index any, subindex any) (float64, error) {
	return readVariable(node, index, subindex, (*od.Variable).Float)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns value as string
func (node *BaseNode) ReadString(index any, subindex any) (string, error) {
	return readVariable(node, index, subindex, (*od.Variable).String)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns value as uint8
func (node *BaseNode) ReadUint8(index any, subindex any) (uint8, error) {
	return readVariable(node, index, subindex, (*od.Variable).Uint8)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns value as uint16
func (node *BaseNode) ReadUint16(index any, subindex any) (uint16, error) {
	return readVariable(node, index, subindex, (*od.Variable).Uint16)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns value as uint32
func (node *BaseNode) ReadUint32(index any, subindex any) (uint32, error) {
	return readVariable(node, index, subindex, (*od.Variable).Uint32)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns value as uint64
func (node *BaseNode) ReadUint64(index any, subindex any) (uint64, error) {
	return readVariable(node, index, subindex, (*od.Variable).Uint64)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns value as int8
func (node *BaseNode) ReadInt8(index any, subindex any) (int8, error) {
	return readVariable(node, index, subindex, (*od.Variable).Int8)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns value as int16
func (node *BaseNode) ReadInt16(index any, subindex any) (int16, error) {
	return readVariable(node, index, subindex, (*od.Variable).Int16)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns value as int32
func (node *BaseNode) ReadInt32(index any, subindex any) (int32, error) {
	return readVariable(node, index, subindex, (*od.Variable).Int32)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns value as int64
func (node *BaseNode) ReadInt64(index any, subindex any) (int64, error) {
	return readVariable(node, index, subindex, (*od.Variable).Int64)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns value as float32
func (node *BaseNode) ReadFloat32(index any, subindex any) (float32, error) {
	return readVariable(node, index, subindex, (*od.Variable).Float32)
}

// Read entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// returns value as float64
func (node *BaseNode) ReadFloat64(index any, subindex any) (float64, error) {
	return readVariable(node, index, subindex, (*od.Variable).Float64)
}

// Write entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// write any datatype i.e. one of : uint8, ..., uint64, int8, ..., int64,
// float32, float64, string, []byte
func (node *BaseNode) WriteAnyExact(index any, subindex any, value any) error {
	entry := node.od.Index(index)
	odVar, err := entry.SubIndex(subindex)
	if err != nil {
		return err
	}
	return odVar.PutAnyExact(value)
}

// Write entry via direct local OD access
// - index should be the same as accepted by [od.ObjectDictionary.Index]
// - subindex should be the same as accepted by [od.Entry.SubIndex]
// write data as raw bytes, only length will be checked, no assumtions
// are made.
func (node *BaseNode) WriteBytes(index any, subindex any, value []byte) error {
	entry := node.od.Index(index)
	odVar, err := entry.SubIndex(subindex)
	if err != nil {
		return err
	}
	return odVar.PutBytes(value)
}
