package transport

import "github.com/cairijun/pork/internal/pork"

// GetMessageRequest is the client-facing getMessage RPC payload.
type GetMessageRequest struct {
	Queue  string `json:"queue"`
	LastID uint64 `json:"last_id"`
}

// GetMessageResponse carries the delivered message, or Timeout set if none
// arrived within the server's wait budget.
type GetMessageResponse struct {
	Message pork.Message `json:"message"`
	Timeout bool         `json:"timeout"`
}

// AddMessageRequest is the client-facing addMessage RPC payload.
type AddMessageRequest struct {
	Queue string            `json:"queue"`
	Msg   pork.Message      `json:"msg"`
	Deps  []pork.Dependency `json:"deps"`
}

// AddMessageResponse returns the id assigned to the pushed message.
type AddMessageResponse struct {
	ID uint64 `json:"id"`
}

// AddMessageGroupRequest is the client-facing addMessageGroup RPC payload:
// every message in Msgs is pushed against the same shared Deps list.
type AddMessageGroupRequest struct {
	Queue string            `json:"queue"`
	Msgs  []pork.Message    `json:"msgs"`
	Deps  []pork.Dependency `json:"deps"`
}

// AddMessageGroupResponse returns the ids assigned, in input order.
type AddMessageGroupResponse struct {
	IDs []uint64 `json:"ids"`
}

// AckRequest is the client-facing ack RPC payload.
type AckRequest struct {
	Queue string `json:"queue"`
	ID    uint64 `json:"id"`
}

// AckResponse is empty; success is signalled by a nil gRPC error.
type AckResponse struct{}

// FailRequest is the client-facing fail RPC payload.
type FailRequest struct {
	Queue string `json:"queue"`
	ID    uint64 `json:"id"`
}

// FailResponse is empty; success is signalled by a nil gRPC error.
type FailResponse struct{}

// SyncSnapshotRequest is the follower-facing syncSnapshot RPC payload,
// sent once when a follower link is established.
type SyncSnapshotRequest struct {
	Snapshot pork.SnapshotSdto `json:"snapshot"`
}

// SyncSnapshotResponse is empty; success is signalled by a nil gRPC error.
type SyncSnapshotResponse struct{}

// SyncAddMessagesRequest is the follower-facing syncAddMessages RPC
// payload, mirroring a primary-side AddMessage/AddMessageGroup call with
// ids already assigned.
type SyncAddMessagesRequest struct {
	Queue string            `json:"queue"`
	Msgs  []pork.Message    `json:"msgs"`
	Deps  []pork.Dependency `json:"deps"`
}

// SyncAddMessagesResponse is empty; success is signalled by a nil gRPC
// error.
type SyncAddMessagesResponse struct{}

// SyncSetMessageStateRequest is the follower-facing syncSetMessageState
// RPC payload, mirroring a primary-side Ack/Fail call.
type SyncSetMessageStateRequest struct {
	Queue string            `json:"queue"`
	ID    uint64            `json:"id"`
	State pork.MessageState `json:"state"`
}

// SyncSetMessageStateResponse is empty; success is signalled by a nil gRPC
// error.
type SyncSetMessageStateResponse struct{}
