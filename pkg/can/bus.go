// Package can holds the driver registry and concrete CAN backend
// implementations (socketcan, virtual, kvaser, ...), all built against the
// canopen.Bus/canopen.Frame/canopen.FrameListener types defined at the
// module root.
package can
