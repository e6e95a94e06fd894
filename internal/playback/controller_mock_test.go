package playback

import (
	"github.com/stretchr/testify/mock"

	"github.com/thenexusengine/tne_vastplayer/internal/pod"
)

// MockController is a mock Controller for tests
type MockController struct {
	mock.Mock
}

func (c *MockController) NotifyPodStarted(id string, length int) {
	c.Called(id, length)
}

func (c *MockController) NotifyPodEnded(id string) {
	c.Called(id)
}

func (c *MockController) NotifyLinearAdStarted(id string, props AdProps) {
	c.Called(id, props)
}

func (c *MockController) NotifyLinearAdEnded(id string) {
	c.Called(id)
}

func (c *MockController) NotifyNonLinearAdStarted(id string, props AdProps) {
	c.Called(id, props)
}

func (c *MockController) NotifyNonLinearAdEnded(id string) {
	c.Called(id)
}

func (c *MockController) ForceAdToPlay(managerName string, member *pod.Member, adType pod.Type, streams []string) {
	c.Called(managerName, member, adType, streams)
}

func (c *MockController) ShowSkipButton(allowed bool, offset float64, isPercent bool) {
	c.Called(allowed, offset, isPercent)
}

func (c *MockController) RaiseAdError(message string) {
	c.Called(message)
}

// allowAll accepts every call so tests can assert on the recorded calls.
func (c *MockController) allowAll() *MockController {
	for _, name := range []string{"NotifyPodEnded", "NotifyLinearAdEnded", "NotifyNonLinearAdEnded", "RaiseAdError"} {
		c.On(name, mock.Anything).Return()
	}
	c.On("NotifyPodStarted", mock.Anything, mock.Anything).Return()
	c.On("NotifyLinearAdStarted", mock.Anything, mock.Anything).Return()
	c.On("NotifyNonLinearAdStarted", mock.Anything, mock.Anything).Return()
	c.On("ForceAdToPlay", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	c.On("ShowSkipButton", mock.Anything, mock.Anything, mock.Anything).Return()
	return c
}

// methods returns the names of the calls made, in order.
func (c *MockController) methods() []string {
	var out []string
	for _, call := range c.Calls {
		out = append(out, call.Method)
	}
	return out
}
