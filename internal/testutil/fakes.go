package testutil

import (
	"context"
	"sync"

	"github.com/qs3c/pricing_server/internal/pkg/alert"
	"github.com/qs3c/pricing_server/internal/pkg/events"
)

// RecordingSink 记录投递的事件
type RecordingSink struct {
	mu     sync.Mutex
	Events []events.DomainEvent
	Err    error
}

func (s *RecordingSink) Publish(_ context.Context, evt events.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, evt)
	return s.Err
}

// Types 已投递事件的类型列表
func (s *RecordingSink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.Events))
	for _, e := range s.Events {
		types = append(types, e.Type)
	}
	return types
}

// FakeAlerter 记录告警
type FakeAlerter struct {
	mu     sync.Mutex
	Alerts []alert.Alert
}

func (a *FakeAlerter) Send(_ context.Context, al alert.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Alerts = append(a.Alerts, al)
	return nil
}

// Count 告警条数
func (a *FakeAlerter) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Alerts)
}
