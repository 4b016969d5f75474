package config

func (config *NodeConfigurator) ReadCobIdTIME() (cobId uint32, err error) {
	return config.client.ReadUint32(config.nodeId, 0x1012, 0)
}

func (config *NodeConfigurator) ProducerEnableTIME() error {
	return config.setCobIdBit(0x1012, config.ReadCobIdTIME, 30, true)
}

func (config *NodeConfigurator) ProducerDisableTIME() error {
	return config.setCobIdBit(0x1012, config.ReadCobIdTIME, 30, false)
}

func (config *NodeConfigurator) ConsumerEnableTIME() error {
	return config.setCobIdBit(0x1012, config.ReadCobIdTIME, 31, true)
}

func (config *NodeConfigurator) ConsumerDisable() error {
	return config.setCobIdBit(0x1012, config.ReadCobIdTIME, 31, false)
}
