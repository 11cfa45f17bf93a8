package bytesource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestOpenAndReadAt(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	path := writeTempFile(t, data)

	bs, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bs.Close()

	if got := bs.Size(); got != int64(len(data)) {
		t.Errorf("Size() = %d, want %d", got, len(data))
	}

	buf := make([]byte, 4)
	n, err := bs.ReadAt(2, buf)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 4 {
		t.Errorf("ReadAt returned %d bytes, want 4", n)
	}
	if diff := cmp.Diff([]byte{0x02, 0x03, 0x04, 0x05}, buf); diff != "" {
		t.Errorf("ReadAt mismatch (-want +got):\n%s", diff)
	}
}

func TestReadAtPastEOFShortRead(t *testing.T) {
	data := []byte{0xAA, 0xBB, 0xCC}
	path := writeTempFile(t, data)

	bs, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bs.Close()

	buf := make([]byte, 8)
	n, err := bs.ReadAt(1, buf)
	if err == nil {
		t.Fatalf("ReadAt past EOF: want error, got nil")
	}
	if n != 2 {
		t.Errorf("ReadAt short count = %d, want 2", n)
	}
}

func TestReadExact(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	path := writeTempFile(t, data)

	bs, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bs.Close()

	got, err := bs.ReadExact(1, 3)
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if diff := cmp.Diff([]byte{2, 3, 4}, got); diff != "" {
		t.Errorf("ReadExact mismatch (-want +got):\n%s", diff)
	}

	if _, err := bs.ReadExact(3, 10); err == nil {
		t.Errorf("ReadExact past EOF: want error, got nil")
	}
}

func TestOpenEmptyFile(t *testing.T) {
	path := writeTempFile(t, nil)
	if _, err := Open(path); err == nil {
		t.Errorf("Open empty file: want error, got nil")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "does-not-exist.bin")); err == nil {
		t.Errorf("Open missing file: want error, got nil")
	}
}
