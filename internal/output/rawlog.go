package output

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"optflow-sim-go/internal/logging"
	"optflow-sim-go/internal/types"
)

// RawLogMagic starts every record log file.
const RawLogMagic = "OFLWLOG1"

var ErrBadMagic = errors.New("not a record log")

// LogEntry is one logged record together with the frame it came from.
type LogEntry struct {
	Camera    string            `cbor:"camera" json:"camera"`
	ImageID   int               `cbor:"image_id" json:"image_id"`
	StartTime float64           `cbor:"start_time" json:"start_time"`
	Record    types.OpticalFlow `cbor:"record" json:"record"`
}

// RawLogWriter appends length-prefixed CBOR payloads to a file:
// magic, then per entry [8 byte unix nanos][4 byte length][payload].
type RawLogWriter struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	path    string
	entries uint64
	bytes   uint64
	log     zerolog.Logger
	every   *logging.EveryN
}

// NewRawLogWriter creates <timestamp>_<prefix>_<session>.bin in outputDir.
func NewRawLogWriter(outputDir, prefix, session string, log zerolog.Logger) (*RawLogWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%s.bin", Timestamp(time.Now()), prefix, shortSession(session)))
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(RawLogMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	log.Info().Str("path", filename).Msg("record log open")
	return &RawLogWriter{
		f:     f,
		w:     w,
		path:  filename,
		bytes: uint64(len(RawLogMagic)),
		log:   log,
		every: logging.NewEveryN(100),
	}, nil
}

func (r *RawLogWriter) Path() string {
	return r.path
}

func (r *RawLogWriter) Record(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("raw log writer is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	r.entries++
	r.bytes += uint64(len(header) + len(payload))
	return r.w.Flush()
}

// Publish logs the record. Write errors are logged, never returned.
func (r *RawLogWriter) Publish(meta types.RecordMeta, rec types.OpticalFlow) {
	payload, err := cbor.Marshal(LogEntry{
		Camera:    meta.Camera,
		ImageID:   meta.ImageID,
		StartTime: meta.StartTime,
		Record:    rec,
	})
	if err == nil {
		err = r.Record(payload)
	}
	if err != nil && r.every.Allow() {
		r.log.Warn().Err(err).Msg("record log write failed")
	}
}

func (r *RawLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	r.log.Info().Str("path", r.path).Uint64("entries", r.entries).
		Str("size", humanize.Bytes(r.bytes)).Msg("record log closed")
	return err
}

// RawEntry is one framed payload read back from a log.
type RawEntry struct {
	Time    time.Time
	Payload []byte
}

// ReadRawLog checks the magic and calls fn for each entry until EOF, a
// truncated entry, or an error from fn.
func ReadRawLog(r io.Reader, fn func(RawEntry) error) error {
	header := make([]byte, len(RawLogMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(header) != RawLogMagic {
		return fmt.Errorf("%w: magic %q", ErrBadMagic, string(header))
	}
	for {
		var meta [12]byte
		if _, err := io.ReadFull(r, meta[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read entry header: %w", err)
		}
		ts := int64(binary.LittleEndian.Uint64(meta[:8]))
		size := binary.LittleEndian.Uint32(meta[8:12])
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read payload: %w", err)
		}
		if err := fn(RawEntry{Time: time.Unix(0, ts), Payload: payload}); err != nil {
			return err
		}
	}
}

// DecodeEntry decodes a payload written by Publish.
func DecodeEntry(payload []byte) (LogEntry, error) {
	var entry LogEntry
	err := cbor.Unmarshal(payload, &entry)
	return entry, err
}

// Timestamp is the file name prefix for outputs of one run.
func Timestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

func shortSession(session string) string {
	session = strings.ReplaceAll(session, "-", "")
	if len(session) > 8 {
		return session[:8]
	}
	if session == "" {
		return "nosession"
	}
	return session
}
