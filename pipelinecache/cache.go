// Package pipelinecache persists Vulkan pipeline cache data between runs.
//
// Cache blobs start with a header identifying the driver that produced
// them. Data from another vendor, device or driver build is useless and is
// discarded on load.
package pipelinecache

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/voxcast/voxcast/log"
)

var logger = log.New("voxcast/pipelinecache")

var (
	ErrBadHeader    = errors.New("pipelinecache: malformed header")
	ErrIncompatible = errors.New("pipelinecache: data from another driver")
)

const (
	// HeaderSize is the size of a version one header.
	HeaderSize = 32

	// HeaderVersionOne is VK_PIPELINE_CACHE_HEADER_VERSION_ONE.
	HeaderVersionOne uint32 = 1
)

// Header is the leading block of every pipeline cache blob, little-endian:
//
//	offset 0   length of the header in bytes
//	offset 4   header version
//	offset 8   vendor ID
//	offset 12  device ID
//	offset 16  pipeline cache UUID
type Header struct {
	Length    uint32
	Version   uint32
	VendorID  uint32
	DeviceID  uint32
	CacheUUID uuid.UUID
}

// Identity describes the driver the running process uses.
type Identity struct {
	VendorID  uint32
	DeviceID  uint32
	CacheUUID uuid.UUID
}

func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, errors.Wrapf(ErrBadHeader, "%d bytes", len(data))
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return h, errors.Wrap(ErrBadHeader, err.Error())
	}
	if h.Length < HeaderSize || int(h.Length) > len(data) {
		return h, errors.Wrapf(ErrBadHeader, "header length %d", h.Length)
	}
	return h, nil
}

// Encode returns the header bytes.
func (h Header) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// Compatible reports why the header cannot be fed to the driver, if it
// cannot.
func (h Header) Compatible(id Identity) error {
	var err error
	if h.Version != HeaderVersionOne {
		err = errors.CombineErrors(err, errors.Newf("unsupported header version %d", h.Version))
	}
	if h.VendorID != id.VendorID {
		err = errors.CombineErrors(err, errors.Newf("vendor 0x%x, driver expects 0x%x", h.VendorID, id.VendorID))
	}
	if h.DeviceID != id.DeviceID {
		err = errors.CombineErrors(err, errors.Newf("device 0x%x, driver expects 0x%x", h.DeviceID, id.DeviceID))
	}
	if h.CacheUUID != id.CacheUUID {
		err = errors.CombineErrors(err, errors.Newf("cache uuid %s, driver expects %s", h.CacheUUID, id.CacheUUID))
	}
	if err != nil {
		return errors.Wrap(ErrIncompatible, err.Error())
	}
	return nil
}

// Load returns the cache data stored at path, or nil on a miss. Files that
// are malformed or were written by another driver are deleted so the next
// Save repopulates them.
func Load(path string, id Identity) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Infof("pipeline cache miss: %s", path)
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read pipeline cache %s", path)
	}

	h, err := ParseHeader(data)
	if err == nil {
		err = h.Compatible(id)
	}
	if err != nil {
		logger.Warningf("discarding pipeline cache %s: %v", path, err)
		if rmErr := os.Remove(path); rmErr != nil {
			logger.Warningf("delete pipeline cache: %v", rmErr)
		}
		return nil, nil
	}

	logger.Infof("loaded %d bytes of pipeline cache from %s", len(data), path)
	return data, nil
}

// Save writes data to path through a temporary file in the same directory
// so that readers never see a partial cache.
func Save(path string, data []byte) error {
	if _, err := ParseHeader(data); err != nil {
		return errors.Wrap(err, "refusing to save pipeline cache")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create pipeline cache file")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write pipeline cache")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close pipeline cache")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "replace pipeline cache")
	}

	logger.Infof("saved %d bytes of pipeline cache to %s", len(data), path)
	return nil
}
