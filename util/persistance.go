package util

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	xdr "github.com/nullstyle/go-xdr/xdr3"
)

// Persist writes v to filename as XDR. The write is atomic: a crash
// mid-write leaves the previous file contents intact. Persisted files
// hold key material, so they are readable by the owner only.
func Persist(filename string, v any) error {
	var w bytes.Buffer
	_, err := xdr.Marshal(&w, v)
	if err != nil {
		return fmt.Errorf("serializing: %w", err)
	}

	err = atomic.WriteFile(filename, &w)
	if err != nil {
		return fmt.Errorf("writing to disk: %w", err)
	}

	if err := os.Chmod(filename, 0o600); err != nil {
		return fmt.Errorf("restricting permissions: %w", err)
	}

	return nil
}

// Load reads the XDR-encoded file written by Persist into v.
func Load(filename string, v any) error {
	data, err := os.ReadFile(filename) //#nosec G304
	if err != nil {
		return fmt.Errorf("loading file: %w", err)
	}

	_, err = xdr.Unmarshal(bytes.NewReader(data), v)
	if err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}

	return nil
}
