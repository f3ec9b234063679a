// Written by hand in the shape of MockGen output.
// Source: github.com/pushbox/outbox-dispatcher/internal/api/handlers/notification (interfaces: store,statusReader)

// Package mocks holds GoMock-style mocks for the notification handler.
package mocks

import (
	context "context"
	reflect "reflect"

	uuid "github.com/google/uuid"
	gomock "github.com/golang/mock/gomock"

	model "github.com/pushbox/outbox-dispatcher/internal/model"
)

// MockStore is a mock of the store interface.
type MockStore struct {
	ctrl     *gomock.Controller
	recorder *MockStoreMockRecorder
}

// MockStoreMockRecorder is the mock recorder for MockStore.
type MockStoreMockRecorder struct {
	mock *MockStore
}

// NewMockStore creates a new mock instance.
func NewMockStore(ctrl *gomock.Controller) *MockStore {
	mock := &MockStore{ctrl: ctrl}
	mock.recorder = &MockStoreMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockStore) EXPECT() *MockStoreMockRecorder {
	return m.recorder
}

// Insert mocks base method.
func (m *MockStore) Insert(ctx context.Context, notif model.NotificationMessage) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Insert", ctx, notif)
	ret0, _ := ret[0].(error)
	return ret0
}

// Insert indicates an expected call of Insert.
func (mr *MockStoreMockRecorder) Insert(ctx, notif any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Insert", reflect.TypeOf((*MockStore)(nil).Insert), ctx, notif)
}

// GetByIdempotencyKey mocks base method.
func (m *MockStore) GetByIdempotencyKey(ctx context.Context, key string) (*model.NotificationMessage, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetByIdempotencyKey", ctx, key)
	ret0, _ := ret[0].(*model.NotificationMessage)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// GetByIdempotencyKey indicates an expected call of GetByIdempotencyKey.
func (mr *MockStoreMockRecorder) GetByIdempotencyKey(ctx, key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetByIdempotencyKey", reflect.TypeOf((*MockStore)(nil).GetByIdempotencyKey), ctx, key)
}

// MockStatusReader is a mock of the statusReader interface.
type MockStatusReader struct {
	ctrl     *gomock.Controller
	recorder *MockStatusReaderMockRecorder
}

// MockStatusReaderMockRecorder is the mock recorder for MockStatusReader.
type MockStatusReaderMockRecorder struct {
	mock *MockStatusReader
}

// NewMockStatusReader creates a new mock instance.
func NewMockStatusReader(ctrl *gomock.Controller) *MockStatusReader {
	mock := &MockStatusReader{ctrl: ctrl}
	mock.recorder = &MockStatusReaderMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockStatusReader) EXPECT() *MockStatusReaderMockRecorder {
	return m.recorder
}

// GetStatus mocks base method.
func (m *MockStatusReader) GetStatus(ctx context.Context, id uuid.UUID) (*model.NotificationMessage, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetStatus", ctx, id)
	ret0, _ := ret[0].(*model.NotificationMessage)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// GetStatus indicates an expected call of GetStatus.
func (mr *MockStatusReaderMockRecorder) GetStatus(ctx, id any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetStatus", reflect.TypeOf((*MockStatusReader)(nil).GetStatus), ctx, id)
}
