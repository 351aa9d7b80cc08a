package pipelinecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIdentity = Identity{
	VendorID:  0x10de,
	DeviceID:  0x2684,
	CacheUUID: uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
}

func blob(id Identity, payload ...byte) []byte {
	h := Header{
		Length:    HeaderSize,
		Version:   HeaderVersionOne,
		VendorID:  id.VendorID,
		DeviceID:  id.DeviceID,
		CacheUUID: id.CacheUUID,
	}
	return append(h.Encode(), payload...)
}

func TestHeaderLayout(t *testing.T) {
	data := blob(testIdentity)
	require.Len(t, data, HeaderSize)

	assert.Equal(t, []byte{32, 0, 0, 0}, data[0:4])
	assert.Equal(t, []byte{1, 0, 0, 0}, data[4:8])
	assert.Equal(t, []byte{0xde, 0x10, 0, 0}, data[8:12])
	assert.Equal(t, []byte{0x84, 0x26, 0, 0}, data[12:16])
	assert.Equal(t, testIdentity.CacheUUID[:], data[16:32])

	h, err := ParseHeader(data)
	require.NoError(t, err)
	assert.Equal(t, testIdentity.CacheUUID, h.CacheUUID)
	assert.NoError(t, h.Compatible(testIdentity))
}

func TestParseHeaderRejectsMalformed(t *testing.T) {
	_, err := ParseHeader(make([]byte, 16))
	assert.ErrorIs(t, err, ErrBadHeader)

	data := blob(testIdentity)
	data[0] = 64
	_, err = ParseHeader(data)
	assert.ErrorIs(t, err, ErrBadHeader, "length beyond the data")

	data[0] = 8
	_, err = ParseHeader(data)
	assert.ErrorIs(t, err, ErrBadHeader, "length shorter than a header")
}

func TestCompatible(t *testing.T) {
	other := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	tests := []struct {
		name   string
		mutate func(*Header)
		detail string
	}{
		{"vendor", func(h *Header) { h.VendorID = 0x1002 }, "vendor 0x1002"},
		{"device", func(h *Header) { h.DeviceID++ }, "device 0x"},
		{"uuid", func(h *Header) { h.CacheUUID = other }, "cache uuid " + other.String()},
		{"version", func(h *Header) { h.Version = 2 }, "header version 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ParseHeader(blob(testIdentity))
			require.NoError(t, err)
			tt.mutate(&h)
			err = h.Compatible(testIdentity)
			assert.ErrorIs(t, err, ErrIncompatible)
			assert.Contains(t, err.Error(), tt.detail)
		})
	}
}

func TestCompatibleAcceptsMatchingHeader(t *testing.T) {
	h, err := ParseHeader(blob(testIdentity))
	require.NoError(t, err)
	assert.NoError(t, h.Compatible(testIdentity))
}

func TestLoadMissingFileIsMiss(t *testing.T) {
	data, err := Load(filepath.Join(t.TempDir(), "absent.bin"), testIdentity)
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	want := blob(testIdentity, 1, 2, 3, 4)

	require.NoError(t, Save(path, want))

	got, err := Load(path, testIdentity)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestLoadDeletesIncompatibleCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	stale := testIdentity
	stale.DeviceID = 0x1234
	require.NoError(t, os.WriteFile(path, blob(stale, 9, 9), 0o644))

	data, err := Load(path, testIdentity)
	assert.NoError(t, err)
	assert.Nil(t, data)

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDeletesMalformedCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	data, err := Load(path, testIdentity)
	assert.NoError(t, err)
	assert.Nil(t, data)

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSaveRejectsHeaderlessData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	assert.ErrorIs(t, Save(path, []byte{1, 2, 3}), ErrBadHeader)

	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
