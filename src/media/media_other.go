//go:build !linux

package media

import (
	"context"

	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/sirupsen/logrus"
)

// DeviceSource is not available on this platform. Acquire always fails with a
// MediaAcquisitionError.
type DeviceSource struct {
	logger *logrus.Entry
}

// NewDeviceSource returns a DeviceSource.
func NewDeviceSource(logger *logrus.Entry) *DeviceSource {
	return &DeviceSource{logger: logger}
}

// Acquire implements the Source interface.
func (s *DeviceSource) Acquire(ctx context.Context, profile Profile) (Microphone, error) {
	s.logger.WithField("profile", profile).Warn("No capture driver on this platform")
	return nil, common.NewCallErr(common.MediaAcquisition, "acquire", errNoDriver)
}
