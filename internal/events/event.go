// Package events 将已完成的请求摘要投递到消息队列，供审计与下游分析使用。
package events

import (
	"encoding/json"
	"time"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
)

// Event 描述一次已完成请求的摘要。
type Event struct {
	ID         string    `json:"id"`
	Service    string    `json:"service,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMS int64     `json:"durationMs"`
	Account    string    `json:"account,omitempty"`
	Roles      []string  `json:"roles,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// FromExchange 根据交换对象生成事件。
func FromExchange(ex *exchange.Exchange) Event {
	ev := Event{
		ID:         ex.ID(),
		Service:    ex.PipelineInfo().Name,
		Method:     ex.Method(),
		Path:       ex.Path(),
		Status:     ex.Status(),
		DurationMS: time.Since(ex.Started()).Milliseconds(),
		OccurredAt: time.Now().UTC(),
	}
	if acc := ex.Account(); acc != nil {
		ev.Account = acc.Name
		ev.Roles = append([]string(nil), acc.Roles...)
	}
	if ex.Request() != nil {
		ev.RequestID = ex.Request().Header.Get("X-Request-Id")
	}
	return ev
}

// Encode 序列化事件。
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode 反序列化事件。
func Decode(payload []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(payload, &ev)
	return ev, err
}
