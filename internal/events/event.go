package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ProofChain/internal/proofs"
)

// TypeProofPublished 是证明发布事件的类型名。
const TypeProofPublished = "proof.published"

// Event 是总线上传输的消息体。
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Receipt    proofs.Receipt `json:"receipt"`
	Duplicate  bool           `json:"duplicate"`
	Attempts   int            `json:"attempts,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// NewProofPublished 构造一条发布事件。duplicate 表示回执来自已有登记。
func NewProofPublished(receipt proofs.Receipt, duplicate bool) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeProofPublished,
		Receipt:    receipt,
		Duplicate:  duplicate,
		OccurredAt: time.Now().UTC(),
	}
}

// Encode 将事件序列化为 JSON。
func Encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}

// Decode 解析事件并校验类型。
func Decode(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	if event.Type == "" || event.ID == "" {
		return Event{}, fmt.Errorf("事件缺少 id 或 type")
	}
	return event, nil
}
