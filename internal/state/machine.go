package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/langchou/tripgazer/internal/models"
)

// 站点围栏状态常量
const (
	StateInside  = "inside"
	StateOutside = "outside"
)

// 事件常量
const (
	EventEnter = "enter"
	EventExit  = "exit"
)

// StopMachine 单个站点的围栏状态机
// 只有 outside->inside 和 inside->outside 两种转换，停留在同一侧不会产生事件
type StopMachine struct {
	mu           sync.RWMutex
	stopID       string
	fsm          *fsm.FSM
	onTransition func(stopID, from, to string)
}

// NewStopMachine 创建状态机，初始状态取自上一次观测
func NewStopMachine(stopID string, presence models.StopPresence, onTransition func(stopID, from, to string)) *StopMachine {
	initial := StateOutside
	if presence == models.PresenceInside {
		initial = StateInside
	}

	m := &StopMachine{
		stopID:       stopID,
		onTransition: onTransition,
	}

	m.fsm = fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: EventEnter, Src: []string{StateOutside}, Dst: StateInside},
			{Name: EventExit, Src: []string{StateInside}, Dst: StateOutside},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onTransition != nil && e.Src != e.Dst {
					m.onTransition(m.stopID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// Observe 根据本次是否在半径内驱动状态机，返回是否发生了跨越
func (m *StopMachine) Observe(inside bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event := EventExit
	if inside {
		event = EventEnter
	}
	if !m.fsm.Can(event) {
		return false, nil
	}
	if err := m.fsm.Event(context.Background(), event); err != nil {
		return false, fmt.Errorf("trigger event %s: %w", event, err)
	}
	return true, nil
}

// Presence 当前围栏状态
func (m *StopMachine) Presence() models.StopPresence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fsm.Current() == StateInside {
		return models.PresenceInside
	}
	return models.PresenceOutside
}

// Set 一个行程全部站点的状态机集合
type Set struct {
	mu           sync.Mutex
	previous     models.GeofenceState
	machines     map[string]*StopMachine
	onTransition func(stopID, from, to string)
}

// NewSet 从上一次保存的围栏状态恢复
func NewSet(previous models.GeofenceState, onTransition func(stopID, from, to string)) *Set {
	return &Set{
		previous:     previous,
		machines:     make(map[string]*StopMachine),
		onTransition: onTransition,
	}
}

// GetOrCreate 获取或创建站点状态机
func (s *Set) GetOrCreate(stopID string) *StopMachine {
	s.mu.Lock()
	defer s.mu.Unlock()

	if machine, ok := s.machines[stopID]; ok {
		return machine
	}

	machine := NewStopMachine(stopID, s.previous[stopID], s.onTransition)
	s.machines[stopID] = machine
	return machine
}

// Snapshot 导出当前状态，未触及的站点保留原值
func (s *Set) Snapshot() models.GeofenceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(models.GeofenceState, len(s.previous)+len(s.machines))
	for stopID, presence := range s.previous {
		out[stopID] = presence
	}
	for stopID, machine := range s.machines {
		out[stopID] = machine.Presence()
	}
	return out
}
