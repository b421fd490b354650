package order

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition 非法状态转换。
var ErrIllegalTransition = errors.New("illegal state transition")

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机。初始化后只读，可在多个 Book 间共享。
type StateMachine struct {
	transitions map[StateTransition]bool
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// 从PENDING可以转到
		{StatusPending, StatusOpen},
		{StatusPending, StatusPartial}, // 回报乱序：成交先于确认
		{StatusPending, StatusFilled},
		{StatusPending, StatusCanceled},
		{StatusPending, StatusRejected},
		{StatusPending, StatusUnknown},

		// 从OPEN可以转到
		{StatusOpen, StatusPartial},
		{StatusOpen, StatusFilled},
		{StatusOpen, StatusCanceled},
		{StatusOpen, StatusUnknown}, // 撤单超时

		// 从PARTIAL可以转到
		{StatusPartial, StatusPartial}, // 多次部分成交
		{StatusPartial, StatusFilled},
		{StatusPartial, StatusCanceled},
		{StatusPartial, StatusUnknown},

		// UNKNOWN 等待任何确定性回报
		{StatusUnknown, StatusOpen},
		{StatusUnknown, StatusPartial},
		{StatusUnknown, StatusFilled},
		{StatusUnknown, StatusCanceled},
		{StatusUnknown, StatusRejected},

		// 终态不能转换（FILLED, CANCELED, REJECTED）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	// 相同的非终态允许（幂等性）
	if from == to && !sm.IsFinalState(from) {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// IsFinalState 判断是否是终态
func (sm *StateMachine) IsFinalState(status Status) bool {
	switch status {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	default:
		return false
	}
}

// IsWorking 订单可能在交易所挂着（含未确认和状态未知）。
func (sm *StateMachine) IsWorking(status Status) bool {
	switch status {
	case StatusPending, StatusOpen, StatusPartial, StatusUnknown:
		return true
	default:
		return false
	}
}

// CanCancel 判断当前状态下是否可以撤单（需要交易所订单号）
func (sm *StateMachine) CanCancel(status Status) bool {
	switch status {
	case StatusOpen, StatusPartial:
		return true
	default:
		return false
	}
}
