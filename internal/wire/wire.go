// Package wire implements the binary frame codec for the broadcast push
// protocol. The schema is a closed, versionless set of messages encoded
// in protobuf wire format; field numbers are part of the wire contract
// and must never be renumbered or reused. Unknown fields are skipped on
// decode so newer servers remain readable.
package wire

// Target paths carried in the frame envelope. Request/response pairs
// are correlated by target-path suffix, not by sequence number.
const (
	TargetAuth      = "broadcast.v1.Broadcast/Auth"
	TargetHeartbeat = "broadcast.v1.Broadcast/Heartbeat"
	TargetSubscribe = "broadcast.v1.Broadcast/Subscribe"
	TargetNotify    = "broadcast.message.Notify/WatchNotify"
)

// Type URLs carried in TypedBox bodies. The prefix is fixed; the suffix
// names the nested message type.
const (
	TypeURLPrefix       = "type.example.com/"
	TypeURLAuthReq      = TypeURLPrefix + "broadcast.AuthReq"
	TypeURLHeartbeatReq = TypeURLPrefix + "broadcast.HeartbeatReq"
	TypeURLSubscribeReq = TypeURLPrefix + "broadcast.SubscribeReq"
	TypeURLNotifyRsp    = TypeURLPrefix + "broadcast.message.NotifyRsp"
)
