package mocks

import (
	"testing"

	"go.uber.org/mock/gomock"
)

// NewMockDraftCreatorForTest creates a MockDraftCreator whose controller is
// finished when the test ends.
func NewMockDraftCreatorForTest(t *testing.T) *MockDraftCreator {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	return NewMockDraftCreator(ctrl)
}
