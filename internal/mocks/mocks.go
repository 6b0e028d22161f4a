// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/rollcall/api/schemas"
	"github.com/xkilldash9x/rollcall/internal/browser"
)

// -- Browser Mocks --

// MockPage mocks browser.Page.
type MockPage struct {
	mock.Mock
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockPage) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) FindElement(ctx context.Context, sel browser.Selector) (browser.Element, error) {
	args := m.Called(ctx, sel)
	return args.Get(0).(browser.Element), args.Error(1)
}

func (m *MockPage) FindElements(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	args := m.Called(ctx, sel)
	var els []browser.Element
	if v := args.Get(0); v != nil {
		els = v.([]browser.Element)
	}
	return els, args.Error(1)
}

func (m *MockPage) FindElementsIn(ctx context.Context, scope browser.Element, sel browser.Selector) ([]browser.Element, error) {
	args := m.Called(ctx, scope, sel)
	var els []browser.Element
	if v := args.Get(0); v != nil {
		els = v.([]browser.Element)
	}
	return els, args.Error(1)
}

func (m *MockPage) Text(ctx context.Context, el browser.Element) (string, error) {
	args := m.Called(ctx, el)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Attributes(ctx context.Context, el browser.Element) (map[string]string, error) {
	args := m.Called(ctx, el)
	var attrs map[string]string
	if v := args.Get(0); v != nil {
		attrs = v.(map[string]string)
	}
	return attrs, args.Error(1)
}

func (m *MockPage) State(ctx context.Context, el browser.Element) (browser.ElementState, error) {
	args := m.Called(ctx, el)
	return args.Get(0).(browser.ElementState), args.Error(1)
}

func (m *MockPage) IsSelected(ctx context.Context, el browser.Element) (bool, error) {
	args := m.Called(ctx, el)
	return args.Bool(0), args.Error(1)
}

func (m *MockPage) ScrollIntoView(ctx context.Context, el browser.Element) error {
	args := m.Called(ctx, el)
	return args.Error(0)
}

func (m *MockPage) Click(ctx context.Context, el browser.Element) error {
	args := m.Called(ctx, el)
	return args.Error(0)
}

func (m *MockPage) DispatchClick(ctx context.Context, el browser.Element) error {
	args := m.Called(ctx, el)
	return args.Error(0)
}

func (m *MockPage) TypeText(ctx context.Context, el browser.Element, text string) error {
	args := m.Called(ctx, el, text)
	return args.Error(0)
}

func (m *MockPage) ResetSession(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockProvider mocks browser.Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) NewPage(ctx context.Context) (browser.Page, error) {
	args := m.Called(ctx)
	var page browser.Page
	if v := args.Get(0); v != nil {
		page = v.(browser.Page)
	}
	return page, args.Error(1)
}

func (m *MockProvider) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- Recorder Mock --

// MockRecorder mocks an outcome sink.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordOutcome(ctx context.Context, outcome schemas.SessionOutcome) error {
	args := m.Called(ctx, outcome)
	return args.Error(0)
}

func (m *MockRecorder) RecordSummary(ctx context.Context, summary schemas.Summary) error {
	args := m.Called(ctx, summary)
	return args.Error(0)
}
