package attachments

import (
	"sort"
	"sync"
)

// TransferStatus is the progress lifecycle of one attachment transfer.
type TransferStatus string

const (
	StatusPending   TransferStatus = "pending"
	StatusActive    TransferStatus = "active"
	StatusCompleted TransferStatus = "completed"
	StatusFailed    TransferStatus = "failed"
)

// Operation distinguishes transfer direction in progress events.
type Operation string

const (
	OpUpload   Operation = "upload"
	OpDownload Operation = "download"
)

// Progress is one progress update for an attachment transfer.
type Progress struct {
	AttachmentId     string         `json:"attachmentId"`
	Operation        Operation      `json:"operation"`
	BytesTransferred int64          `json:"bytesTransferred"`
	TotalBytes       int64          `json:"totalBytes"`
	Percentage       int            `json:"percentage"`
	Status           TransferStatus `json:"status"`
	Error            string         `json:"error,omitempty"`
}

// Hub is an explicit observer registry mapping attachment ids to handler
// sets. Delivery is synchronous and deterministic; a late subscriber
// immediately receives the last known progress for its id. Each Hub
// instance is independent, so test sessions never cross-contaminate.
type Hub struct {
	mu     sync.Mutex
	nextId int
	subs   map[string]map[int]func(Progress)
	last   map[string]Progress
}

// NewHub returns an empty registry.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[int]func(Progress)),
		last: make(map[string]Progress),
	}
}

// Subscribe registers fn for updates about attachmentId and returns an
// unsubscribe handle. If progress is already known, fn is invoked with it
// before Subscribe returns.
func (h *Hub) Subscribe(attachmentId string, fn func(Progress)) (unsubscribe func()) {
	h.mu.Lock()
	h.nextId++
	id := h.nextId
	set, ok := h.subs[attachmentId]
	if !ok {
		set = make(map[int]func(Progress))
		h.subs[attachmentId] = set
	}
	set[id] = fn
	replay, hasReplay := h.last[attachmentId]
	h.mu.Unlock()

	if hasReplay {
		fn(replay)
	}

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[attachmentId]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(h.subs, attachmentId)
			}
		}
	}
}

// Last returns the last published progress for attachmentId, if any.
func (h *Hub) Last(attachmentId string) (Progress, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.last[attachmentId]
	return p, ok
}

// Clear resets tracked progress for attachmentId to the pending zero state
// and notifies current subscribers. Used when an attachment is deleted or a
// transfer is retried from scratch.
func (h *Hub) Clear(attachmentId string) {
	h.publish(Progress{AttachmentId: attachmentId, Status: StatusPending})
}

func (h *Hub) publish(p Progress) {
	h.mu.Lock()
	h.last[p.AttachmentId] = p
	set := h.subs[p.AttachmentId]
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	// Deliver in subscription order.
	sort.Ints(ids)
	handlers := make([]func(Progress), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, set[id])
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(p)
	}
}
