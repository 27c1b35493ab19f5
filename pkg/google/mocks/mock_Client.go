// Package mocks provides test doubles for the google client.
package mocks

import (
	"context"

	google "github.com/sells-group/places-sync/pkg/google"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// SearchText provides a mock function with given fields: ctx, req
func (_m *MockClient) SearchText(ctx context.Context, req google.SearchTextRequest) (*google.SearchTextResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for SearchText")
	}

	var r0 *google.SearchTextResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, google.SearchTextRequest) (*google.SearchTextResponse, error)); ok {
		return rf(ctx, req)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*google.SearchTextResponse)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// PlaceDetails provides a mock function with given fields: ctx, placeID
func (_m *MockClient) PlaceDetails(ctx context.Context, placeID string) (*google.PlaceDetails, error) {
	ret := _m.Called(ctx, placeID)

	if len(ret) == 0 {
		panic("no return value specified for PlaceDetails")
	}

	var r0 *google.PlaceDetails
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*google.PlaceDetails, error)); ok {
		return rf(ctx, placeID)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*google.PlaceDetails)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// PlacePhotos provides a mock function with given fields: ctx, placeID
func (_m *MockClient) PlacePhotos(ctx context.Context, placeID string) ([]google.Photo, error) {
	ret := _m.Called(ctx, placeID)

	if len(ret) == 0 {
		panic("no return value specified for PlacePhotos")
	}

	var r0 []google.Photo
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) ([]google.Photo, error)); ok {
		return rf(ctx, placeID)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]google.Photo)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// PhotoMedia provides a mock function with given fields: ctx, photoName, maxWidthPx
func (_m *MockClient) PhotoMedia(ctx context.Context, photoName string, maxWidthPx int) (*google.Media, error) {
	ret := _m.Called(ctx, photoName, maxWidthPx)

	if len(ret) == 0 {
		panic("no return value specified for PhotoMedia")
	}

	var r0 *google.Media
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, int) (*google.Media, error)); ok {
		return rf(ctx, photoName, maxWidthPx)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*google.Media)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
