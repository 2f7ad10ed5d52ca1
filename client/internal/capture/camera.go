// Package capture provides the default device-backed implementations of the
// media collaborator interfaces: an OpenCV camera frame source and
// PortAudio microphone/speaker endpoints.
package capture

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// CameraSource reads frames from a local camera via OpenCV. It satisfies
// media.FrameSource.
type CameraSource struct {
	mu  sync.Mutex
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// OpenCamera opens the camera at index and verifies a frame can actually be
// read — some backends report open yet deliver nothing.
func OpenCamera(index int) (*CameraSource, error) {
	cap, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", index, err)
	}
	c := &CameraSource{cap: cap, mat: gocv.NewMat()}
	if ok := cap.Read(&c.mat); !ok || c.mat.Empty() {
		c.Close()
		return nil, fmt.Errorf("camera %d opened but delivers no frames", index)
	}
	return c, nil
}

// ReadFrame grabs the next frame and converts it to an image.Image.
func (c *CameraSource) ReadFrame() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil, fmt.Errorf("camera closed")
	}
	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, fmt.Errorf("camera read failed")
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

func (c *CameraSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil
	}
	c.mat.Close() //nolint:errcheck // Mat close never fails meaningfully
	err := c.cap.Close()
	c.cap = nil
	return err
}
