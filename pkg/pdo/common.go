package pdo

import (
	"fmt"
	"log/slog"

	canopen "github.com/canfieldbus/gocanopen"
	"github.com/canfieldbus/gocanopen/pkg/emergency"
	"github.com/canfieldbus/gocanopen/pkg/od"
)

const (
	MaxPdoLength    uint8 = 8
	BufferCountRpdo uint8 = 2
	MinPdoNumber          = uint16(1)
	MaxPdoNumber          = uint16(512)
	MinRpdoNumber         = MinPdoNumber
	MaxRpdoNumber         = uint16(256)
	MinTpdoNumber         = MaxRpdoNumber + 1
	MaxTpdoNumber         = MaxPdoNumber
)

const (
	TransmissionTypeSyncAcyclic = 0    // synchronous (acyclic)
	TransmissionTypeSync1       = 1    // synchronous (cyclic every sync)
	TransmissionTypeSync240     = 0xF0 // synchronous (cyclic every 240-th sync)
	TransmissionTypeSyncEventLo = 0xFE // event-driven, lower value (manufacturer specific)
	TransmissionTypeSyncEventHi = 0xFF // event-driven, higher value (device profile and application profile specific)
)

// Common to TPDO & RPDO
type PDOCommon struct {
	od        *od.ObjectDictionary
	logger    *slog.Logger
	emcy      *emergency.EMCY
	streamers [od.MaxMappedEntriesPdo]od.Streamer
	// bitOffsets[i]/bitLengths[i] locate mapped entry i inside the PDO's
	// packed frame: a field need not start or end on a byte boundary.
	// signedField[i] says whether unpacking that field back into the OD
	// (RPDO reception) must sign-extend it to the variable's native width.
	bitOffsets     [od.MaxMappedEntriesPdo]uint32
	bitLengths     [od.MaxMappedEntriesPdo]uint8
	signedField    [od.MaxMappedEntriesPdo]bool
	Valid          bool
	dataLength     uint32
	nbMapped       uint8
	flagPDOByte    [od.FlagsPdoSize]*byte
	flagPDOBitmask [od.FlagsPdoSize]byte
	IsRPDO         bool
	predefinedId   uint16
	configuredId   uint16
}

// maxMappedBits is the largest total bit length a PDO frame can carry
// (8 bytes, CiA 301's classic-CAN PDO size).
const maxMappedBits = uint32(MaxPdoLength) * 8

// recomputeBitOffsets lays out bitOffsets[0:nbMapped] back to back in
// mapping order and returns the total number of bits mapped.
func (pdo *PDOCommon) recomputeBitOffsets() uint32 {
	offset := uint32(0)
	for i := uint8(0); i < pdo.nbMapped; i++ {
		pdo.bitOffsets[i] = offset
		offset += uint32(pdo.bitLengths[i])
	}
	return offset
}

func (base *PDOCommon) attribute() uint8 {
	if base.IsRPDO {
		return od.AttributeRpdo
	}
	return od.AttributeTpdo
}

func (base *PDOCommon) Type() string {
	if base.IsRPDO {
		return "RPDO"
	}
	return "TPDO"
}

// parseCobId decodes subindex 1 (cobId) of a PDO communication parameter
// record, shared between TPDO (180x) and RPDO (140x) configuration.
// predefinedIdent is substituted back in when the stored id is the
// node's default placeholder (the predefined id with its low 7 node-id
// bits cleared). TPDO and RPDO each layer their own extra validity checks on
// top of the returned canId/valid pair.
func (pdo *PDOCommon) parseCobId(entry *od.Entry, predefinedIdent uint16) (cobId uint32, canId uint16, valid bool, err error) {
	cobId, err = entry.Uint32(od.SubPdoCobId)
	if err != nil {
		pdo.logger.Error("reading failed",
			"index", fmt.Sprintf("x%x", entry.Index),
			"subindex", od.SubPdoCobId,
			"error", err,
		)
		return 0, 0, false, canopen.ErrOdParameters
	}
	valid = (cobId & 0x80000000) == 0
	canId = uint16(cobId & 0x7FF)
	if canId != 0 && canId == (predefinedIdent&0xFF80) {
		canId = predefinedIdent
	}
	return cobId, canId, valid, nil
}

// Configure a PDO map (this is done on startup and can also be done dynamically when writing to special objects)
//
// mapParam's low byte is a bit length, not a byte length: CiA 301 allows
// mapping a sub-byte field (e.g. a 4-bit sub-field of a record entry) as
// long as the whole PDO still fits in 8 bytes. The mapped entry keeps
// referencing the OD variable at its native width; packing/unpacking the
// requested bit window happens at TX/RX time (see bitpack.go).
func (pdo *PDOCommon) configureMap(mapParam uint32, mapIndex uint32, isRPDO bool) error {
	index := uint16(mapParam >> 16)
	subIndex := byte(mapParam >> 8)
	mappedLengthBits := uint32(byte(mapParam))
	streamer := &pdo.streamers[mapIndex]

	// Total PDO length should be smaller than the max possible size
	if mappedLengthBits > maxMappedBits {
		pdo.logger.Warn("mapped parameter is too long",
			"index", fmt.Sprintf("x%x", index),
			"subindex", fmt.Sprintf("x%x", subIndex),
			"lengthBits", mappedLengthBits,
		)
		return od.ErrMapLen
	}
	// Dummy entries map to "fake" entries
	if index < 0x20 && subIndex == 0 {
		byteLen := (mappedLengthBits + 7) / 8
		streamer.ResetData(byteLen, byteLen)
		streamer.SetWriter(WriteDummy)
		streamer.SetReader(ReadDummy)
		pdo.bitLengths[mapIndex] = uint8(mappedLengthBits)
		pdo.signedField[mapIndex] = false
		return nil
	}
	// Get entry in OD
	entry := pdo.od.Index(index)
	streamerCopy, err := od.NewStreamer(entry, subIndex, false)
	if err != nil {
		pdo.logger.Warn("mapping failed",
			"index", fmt.Sprintf("x%x", index),
			"subindex", fmt.Sprintf("x%x", subIndex),
			"error", err,
		)
		return err
	}
	variable, err := entry.SubIndex(subIndex)
	if err != nil {
		pdo.logger.Warn("mapping failed : could not resolve variable",
			"index", fmt.Sprintf("x%x", index),
			"subindex", fmt.Sprintf("x%x", subIndex),
			"error", err,
		)
		return err
	}

	// Check correct attribute and length; sub-byte bit lengths are only
	// rejected once they overrun the native variable's own width.
	switch {
	case !streamerCopy.HasAttribute(pdo.attribute()):
		pdo.logger.Warn("mapping failed : attribute error",
			"index", fmt.Sprintf("x%x", index),
			"subindex", fmt.Sprintf("x%x", subIndex),
		)
		return od.ErrNoMap
	case mappedLengthBits == 0 || mappedLengthBits > streamerCopy.DataLength*8:
		pdo.logger.Warn("mapping failed : length error",
			"index", fmt.Sprintf("x%x", index),
			"subindex", fmt.Sprintf("x%x", subIndex),
			"lengthBits", mappedLengthBits,
			"nativeBits", streamerCopy.DataLength*8,
		)
		return od.ErrNoMap
	default:
	}
	streamer.SetStream(streamerCopy.Stream)
	streamer.SetReader(streamerCopy.Reader())
	streamer.SetWriter(streamerCopy.Writer())
	streamer.DataOffset = 0
	pdo.bitLengths[mapIndex] = uint8(mappedLengthBits)
	pdo.signedField[mapIndex] = od.IsSignedDataType(variable.DataType)

	if isRPDO {
		return nil
	}
	if uint32(subIndex) < (uint32(od.FlagsPdoSize)*8) && entry.Extension() != nil {
		pdo.flagPDOByte[mapIndex] = entry.FlagPDOByte(subIndex)
		pdo.flagPDOBitmask[mapIndex] = 1 << (subIndex & 0x07)
	} else {
		pdo.flagPDOByte[mapIndex] = nil
	}
	pdo.logger.Info("update mapping successful",
		"index", fmt.Sprintf("x%x", index),
		"subindex", fmt.Sprintf("x%x", subIndex),
	)
	return nil

}

// Create and initialize a common PDO object
func NewPDO(
	odict *od.ObjectDictionary,
	logger *slog.Logger,
	entry *od.Entry,
	isRPDO bool,
	em *emergency.EMCY,
	erroneoursMap *uint32,
) (*PDOCommon, error) {

	pdo := &PDOCommon{}
	pdo.od = odict
	pdo.emcy = em
	pdo.IsRPDO = isRPDO

	if logger == nil {
		logger = slog.Default()
	}

	if pdo.IsRPDO {
		pdo.logger = logger.With("service", "RPDO")
	} else {
		pdo.logger = logger.With("service", "TPDO")
	}

	// Get number of mapped objects
	mappedObjectsCount, err := entry.Uint8(0)
	if err != nil {
		pdo.logger.Error("reading nb mapped objects failed",
			"index", fmt.Sprintf("x%x", entry.Index),
			"subindex", fmt.Sprintf("x%x", 0),
			"error", err,
		)
		return nil, canopen.ErrOdParameters
	}

	// Iterate over all the mapping objects
	for i := range pdo.streamers {
		streamer := &pdo.streamers[i]
		mapParam, err := entry.Uint32(uint8(i) + 1)
		if err == od.ErrSubNotExist {
			continue
		}
		if err != nil {
			pdo.logger.Error("reading mapped objects failed",
				"index", fmt.Sprintf("x%x", entry.Index),
				"subindex", fmt.Sprintf("x%x", i+1),
				"error", err,
			)
			return nil, canopen.ErrOdParameters
		}
		err = pdo.configureMap(mapParam, uint32(i), isRPDO)
		if err != nil {
			// Init failed, but not critical
			streamer.ResetData(0, 0xFF)
			pdo.bitLengths[i] = 0
			if *erroneoursMap == 0 {
				*erroneoursMap = mapParam
			}
		}
	}

	pdo.nbMapped = mappedObjectsCount
	totalBits := pdo.recomputeBitOffsets()
	pdoDataLength := (totalBits + 7) / 8

	if totalBits > maxMappedBits || (totalBits == 0 && mappedObjectsCount > 0) {
		if *erroneoursMap == 0 {
			*erroneoursMap = 1
		}
	}
	if *erroneoursMap == 0 {
		pdo.dataLength = pdoDataLength
	} else {
		pdo.nbMapped = 0
	}
	return pdo, nil
}
