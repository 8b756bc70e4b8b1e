package persistence

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/hotspot-sim/internal/engine"
)

// SnapshotHeader is the plain JSON line at the start of every snapshot, so
// tools can identify a file without decoding the world.
type SnapshotHeader struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id,omitempty"`
	Seed    uint64 `json:"seed"`
	Tick    uint64 `json:"tick"`
	Horizon uint64 `json:"horizon"`
}

// WriteSnapshot stores st at path as a zstd stream holding a JSON header
// line followed by the gob-encoded state. The file is replaced atomically.
func WriteSnapshot(path, runID string, st *engine.State) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// A unique temp file lets concurrent writers of the same path each
	// rename a complete snapshot.
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(SnapshotHeader{
		Version: st.Version,
		RunID:   runID,
		Seed:    st.Config.Seed,
		Tick:    st.Tick,
		Horizon: st.Config.Horizon,
	})
	if err != nil {
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(st); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadSnapshot loads a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (SnapshotHeader, *engine.State, error) {
	var hdr SnapshotHeader
	f, err := os.Open(path)
	if err != nil {
		return hdr, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return hdr, nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return hdr, nil, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, nil, fmt.Errorf("decode header: %w", err)
	}
	if hdr.Version != engine.StateVersion {
		return hdr, nil, fmt.Errorf("snapshot version %d, want %d", hdr.Version, engine.StateVersion)
	}

	st := &engine.State{}
	if err := gob.NewDecoder(br).Decode(st); err != nil {
		return hdr, nil, fmt.Errorf("gob decode: %w", err)
	}
	if st.Tick != hdr.Tick {
		return hdr, nil, errors.New("snapshot header does not match its body")
	}
	return hdr, st, nil
}
