package runner

import (
	"context"
	"reflect"

	"github.com/cuemby/kiln/pkg/pool"
	"github.com/cuemby/kiln/pkg/workerkey"
	"go.uber.org/mock/gomock"
)

// MockPool is a hand-written gomock-style mock of pool.Pool, used to assert
// the borrow/return/invalidate lifecycle invariant (spec testable property
// 5: exactly one of return/invalidate per borrowed worker) without starting
// real OS processes.
type MockPool struct {
	ctrl     *gomock.Controller
	recorder *MockPoolMockRecorder
}

type MockPoolMockRecorder struct {
	mock *MockPool
}

func NewMockPool(ctrl *gomock.Controller) *MockPool {
	m := &MockPool{ctrl: ctrl}
	m.recorder = &MockPoolMockRecorder{m}
	return m
}

func (m *MockPool) EXPECT() *MockPoolMockRecorder {
	return m.recorder
}

func (m *MockPool) Borrow(ctx context.Context, key workerkey.Key) (pool.Worker, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Borrow", ctx, key)
	w, _ := ret[0].(pool.Worker)
	err, _ := ret[1].(error)
	return w, err
}

func (mr *MockPoolMockRecorder) Borrow(ctx, key interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Borrow", reflect.TypeOf((*MockPool)(nil).Borrow), ctx, key)
}

func (m *MockPool) Return(w pool.Worker) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Return", w)
}

func (mr *MockPoolMockRecorder) Return(w interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Return", reflect.TypeOf((*MockPool)(nil).Return), w)
}

func (m *MockPool) Invalidate(ctx context.Context, w pool.Worker) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Invalidate", ctx, w)
}

func (mr *MockPoolMockRecorder) Invalidate(ctx, w interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Invalidate", reflect.TypeOf((*MockPool)(nil).Invalidate), ctx, w)
}

func (m *MockPool) Shutdown(ctx context.Context) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Shutdown", ctx)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockPoolMockRecorder) Shutdown(ctx interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Shutdown", reflect.TypeOf((*MockPool)(nil).Shutdown), ctx)
}
