package gpu

import (
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// EnsureGPU ensures the GPU context is initialized.
func EnsureGPU() error {
	_, err := GetContext()
	return err
}

// NewFloatBuffer creates a storage buffer initialized from float32 data.
func NewFloatBuffer(data []float32, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	buf, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Contents: wgpu.ToBytes(data),
		Usage:    usage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer: %v", err)
	}
	return buf, nil
}

// NewUint32Buffer creates a storage buffer initialized from uint32 data.
func NewUint32Buffer(data []uint32, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	buf, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Contents: wgpu.ToBytes(data),
		Usage:    usage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer: %v", err)
	}
	return buf, nil
}

// ReadBuffer copies a float32 buffer through a staging buffer and maps it
// back to the host.
func ReadBuffer(buffer *wgpu.Buffer, size int) ([]float32, error) {
	raw, err := readBytes(buffer, size*4)
	if err != nil {
		return nil, err
	}
	result := make([]float32, size)
	copy(result, wgpu.FromBytes[float32](raw))
	return result, nil
}

// ReadUint32Buffer is ReadBuffer for uint32 contents.
func ReadUint32Buffer(buffer *wgpu.Buffer, size int) ([]uint32, error) {
	raw, err := readBytes(buffer, size*4)
	if err != nil {
		return nil, err
	}
	result := make([]uint32, size)
	copy(result, wgpu.FromBytes[uint32](raw))
	return result, nil
}

func readBytes(buffer *wgpu.Buffer, sizeBytes int) ([]byte, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	stagingBuf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ReadStaging",
		Size:  uint64(sizeBytes),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create staging buffer: %v", err)
	}
	defer stagingBuf.Destroy()

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %v", err)
	}
	encoder.CopyBufferToBuffer(buffer, 0, stagingBuf, 0, uint64(sizeBytes))
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to finish command: %v", err)
	}
	c.Queue.Submit(cmd)

	done := make(chan struct{})
	var mapErr error
	err = stagingBuf.MapAsync(wgpu.MapModeRead, 0, uint64(sizeBytes), func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, fmt.Errorf("MapAsync failed: %v", err)
	}

	timeout := time.After(2 * time.Second)
Loop:
	for {
		c.Device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-timeout:
			return nil, fmt.Errorf("buffer readback timed out after 2s")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return nil, mapErr
	}

	data := stagingBuf.GetMappedRange(0, uint(sizeBytes))
	if data == nil {
		return nil, fmt.Errorf("failed to get mapped range")
	}
	out := make([]byte, sizeBytes)
	copy(out, data)
	stagingBuf.Unmap()
	return out, nil
}
