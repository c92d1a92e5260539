package httpapi

import (
	"time"

	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

type memberView struct {
	MemberID string    `json:"member_id"`
	Rank     int       `json:"rank"`
	Note     string    `json:"note,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
	Pending  bool      `json:"pending"`
}

type queueView struct {
	ID            uint         `json:"id"`
	GuildID       string       `json:"guild_id"`
	SourceID      string       `json:"source_id"`
	DestinationID string       `json:"destination_id,omitempty"`
	Capacity      int          `json:"capacity"` // 0 = unbounded
	AutoFill      bool         `json:"auto_fill"`
	PullBatchSize int          `json:"pull_batch_size"`
	Size          int          `json:"size"`
	Members       []memberView `json:"members,omitempty"`
}

// event is what websocket clients receive.
type event struct {
	Type  string     `json:"type"` // snapshot | deleted
	Queue *queueView `json:"queue,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func viewOf(q queue.Queue) queueView {
	return queueView{
		ID:            q.ID,
		GuildID:       q.GuildID,
		SourceID:      q.SourceID,
		DestinationID: q.DestinationID,
		Capacity:      q.Capacity,
		AutoFill:      q.AutoFill,
		PullBatchSize: q.PullBatchSize,
	}
}

func statusView(st *queue.Status, pending func(queueID uint, memberID string) bool) queueView {
	v := viewOf(st.Queue)
	v.Size = len(st.Members)
	v.Members = make([]memberView, len(st.Members))
	for i, m := range st.Members {
		v.Members[i] = memberView{
			MemberID: m.MemberID,
			Rank:     i,
			Note:     m.Note,
			JoinedAt: m.JoinedAt,
			Pending:  pending(st.Queue.ID, m.MemberID),
		}
	}
	return v
}
