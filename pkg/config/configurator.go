package config

import "github.com/canfieldbus/gocanopen/pkg/sdo"

// NodeConfigurator provides helper methods for
// reading / updating CANopen reserved configuration objects
// i.e. objects between 0x1000 and 0x2000.
// No EDS files need to be loaded for configuring these parameters
// This uses an SDO client to access the different objects
type NodeConfigurator struct {
	client *sdo.SDOClient
	nodeId uint8
}

// Create a new [NodeConfigurator] for given ID and SDOClient
func NewNodeConfigurator(nodeId uint8, client *sdo.SDOClient) *NodeConfigurator {
	configurator := NodeConfigurator{client: client, nodeId: nodeId}
	return &configurator
}

// setCobIdBit reads a COB-ID (index 0x1005/0x1012), sets or clears bit, and
// writes it back. SYNC and TIME share this producer/consumer
// enable-bit layout (bit 30 = producer enable, bit 31 = consumer enable).
func (config *NodeConfigurator) setCobIdBit(index uint16, read func() (uint32, error), bit uint, enable bool) error {
	cobId, err := read()
	if err != nil {
		return err
	}
	if enable {
		cobId |= uint32(1) << bit
	} else {
		cobId &^= uint32(1) << bit
	}
	return config.client.WriteRaw(config.nodeId, index, 0x0, cobId, false)
}
