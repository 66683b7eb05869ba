package pork

// MessageSdto is the serializable view of one internal message record,
// part of a QueueSdto.
type MessageSdto struct {
	Msg   Message      `json:"msg"`
	State MessageState `json:"state"`
	NDeps int          `json:"n_deps"`
}

// DependencySdto is the serializable view of one dependency record.
type DependencySdto struct {
	NResolved    int      `json:"n_resolved"`
	DependantIDs []uint64 `json:"dependant_ids"`
}

// QueueSdto is a serializable capture of one queue engine's entire state,
// used for follower catch-up.
type QueueSdto struct {
	AllMsgs map[uint64]MessageSdto    `json:"all_msgs"`
	AllDeps map[string]DependencySdto `json:"all_deps"`
}

// SnapshotSdto captures every queue engine known to a broker, keyed by
// queue name.
type SnapshotSdto struct {
	Queues map[string]QueueSdto `json:"queues"`
}
