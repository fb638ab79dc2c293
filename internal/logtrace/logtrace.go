// Package logtrace implements the deterministic per-layer append-only
// logger described in §4.10: hot-path stages push a cycle counter and
// sequence id through a multi-producer ring (ring.MPSC) to a consumer goroutine that
// owns all file I/O, and a shutdown-time manifest records a SHA-256
// digest per log file for later cross-correlation and integrity
// verification.
package logtrace

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tick2trade/internal/ring"
	"tick2trade/pkg/types"
)

// FileID identifies one of the fixed log files named in §4.10's
// persisted state layout.
type FileID uint8

const (
	FileNicRxTx FileID = iota
	FileStrategyTrace
	FileOrderGateway
	FileExchangeAck
	FilePTPSync
	fileCount
)

func (f FileID) filename() string {
	switch f {
	case FileNicRxTx:
		return "nic_rx_tx.log"
	case FileStrategyTrace:
		return "strategy_trace.log"
	case FileOrderGateway:
		return "order_gateway.log"
	case FileExchangeAck:
		return "exchange_ack.log"
	case FilePTPSync:
		return "ptp_sync.log"
	default:
		return "unknown.log"
	}
}

// layerFile maps each trace layer to the file it's appended to. NicRx
// and NicTx share one file; Decode through Submit share strategy_trace
// except Submit, which gets its own order_gateway.log since it tracks
// client_order_id assignment rather than signal/quote computation.
var layerFile = map[types.TraceLayer]FileID{
	types.LayerNicRx:       FileNicRxTx,
	types.LayerNicTx:       FileNicRxTx,
	types.LayerDecode:      FileStrategyTrace,
	types.LayerLobCommit:   FileStrategyTrace,
	types.LayerSignalReady: FileStrategyTrace,
	types.LayerQuote:       FileStrategyTrace,
	types.LayerRisk:        FileStrategyTrace,
	types.LayerSubmit:      FileOrderGateway,
	types.LayerExchangeAck: FileExchangeAck,
}

// ClockSyncRecord is one ptp_sync.log entry: the running EMA offset and
// drift estimate against the reference clock.
type ClockSyncRecord struct {
	Seq            uint64
	Cycle          uint64
	EMAOffsetNanos float64
	DriftNanos     float64
}

type entryKind uint8

const (
	kindTrace entryKind = iota
	kindClockSync
)

// entry is the ring's element type: a tagged union so trace records and
// clock-sync records can share one MPSC queue without boxing.
type entry struct {
	kind  entryKind
	trace types.TraceRecord
	clock ClockSyncRecord
}

type fileSink struct {
	file *os.File
	buf  *bufio.Writer
	hash hash.Hash
}

func newFileSink(path string) (*fileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	buf := bufio.NewWriter(io.MultiWriter(f, h))
	return &fileSink{file: f, buf: buf, hash: h}, nil
}

func (s *fileSink) writeLine(line string) error {
	_, err := s.buf.WriteString(line)
	return err
}

func (s *fileSink) close() (digest string, err error) {
	if err := s.buf.Flush(); err != nil {
		return "", err
	}
	digest = hex.EncodeToString(s.hash.Sum(nil))
	return digest, s.file.Close()
}

// Logger owns the egress ring and the per-file consumer state. It must
// never allocate or block from the caller's perspective on the hot
// path: Record and RecordClockSync are TryPush wrappers.
type Logger struct {
	entries *ring.MPSC[entry]
	sinks   map[FileID]*fileSink
	signer  *ecdsa.PrivateKey
	logger  *slog.Logger

	stop    chan struct{}
	stopped sync.WaitGroup
	dir     string
}

// NewLogger creates the log directory, opens all fixed log files, and
// starts the consumer goroutine. signer may be nil, in which case the
// shutdown manifest is written unsigned.
func NewLogger(dir string, ringCapacity int, signer *ecdsa.PrivateKey, logger *slog.Logger) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logtrace: create dir: %w", err)
	}

	sinks := make(map[FileID]*fileSink, int(fileCount))
	for id := FileID(0); id < fileCount; id++ {
		sink, err := newFileSink(filepath.Join(dir, id.filename()))
		if err != nil {
			return nil, fmt.Errorf("logtrace: open %s: %w", id.filename(), err)
		}
		sinks[id] = sink
	}

	l := &Logger{
		entries: ring.NewMPSC[entry](ringCapacity),
		sinks:   sinks,
		signer:  signer,
		logger:  logger,
		stop:    make(chan struct{}),
		dir:     dir,
	}
	l.stopped.Add(1)
	go l.run()
	return l, nil
}

// Record pushes one trace record for layer onto the egress ring.
// Returns ring.ErrWouldBlock under backpressure rather than blocking.
func (l *Logger) Record(layer types.TraceLayer, seq, cycle uint64, aux int64) error {
	return l.entries.TryPush(entry{
		kind:  kindTrace,
		trace: types.TraceRecord{Layer: layer, Seq: seq, Cycle: cycle, Aux: aux},
	})
}

// RecordClockSync pushes one ptp_sync.log entry onto the egress ring.
func (l *Logger) RecordClockSync(rec ClockSyncRecord) error {
	return l.entries.TryPush(entry{kind: kindClockSync, clock: rec})
}

func (l *Logger) run() {
	defer l.stopped.Done()
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		drainedAny := l.drainOnce()
		select {
		case <-l.stop:
			l.drainOnce()
			return
		default:
		}
		if !drainedAny {
			<-ticker.C
		}
	}
}

func (l *Logger) drainOnce() bool {
	any := false
	for {
		e, err := l.entries.TryPop()
		if err != nil {
			return any
		}
		any = true
		l.writeEntry(e)
	}
}

func (l *Logger) writeEntry(e entry) {
	var sink *fileSink
	var line string
	switch e.kind {
	case kindTrace:
		sink = l.sinks[layerFile[e.trace.Layer]]
		line = fmt.Sprintf("layer=%s seq=%d cycle=%d aux=%d\n", e.trace.Layer, e.trace.Seq, e.trace.Cycle, e.trace.Aux)
	case kindClockSync:
		sink = l.sinks[FilePTPSync]
		line = fmt.Sprintf("seq=%d cycle=%d ema_offset_ns=%.3f drift_ns=%.3f\n", e.clock.Seq, e.clock.Cycle, e.clock.EMAOffsetNanos, e.clock.DriftNanos)
	}
	if sink == nil {
		return
	}
	if err := sink.writeLine(line); err != nil && l.logger != nil {
		l.logger.Error("logtrace: write failed", "err", err)
	}
}

// Shutdown drains whatever remains on the ring, stops the consumer
// goroutine, closes every log file, and writes the manifest (signed only
// when the Logger has a signer). Nothing rejects later producers:
// callers must not call Record/RecordClockSync after calling Shutdown.
func (l *Logger) Shutdown(ctx context.Context) error {
	l.entries.Drain()
	close(l.stop)

	done := make(chan struct{})
	go func() {
		l.stopped.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return l.writeManifest()
}

func (l *Logger) writeManifest() error {
	type digestEntry struct {
		id     FileID
		digest string
	}

	entries := make([]digestEntry, 0, int(fileCount))
	for id := FileID(0); id < fileCount; id++ {
		digest, err := l.sinks[id].close()
		if err != nil {
			return fmt.Errorf("logtrace: close %s: %w", id.filename(), err)
		}
		entries = append(entries, digestEntry{id: id, digest: digest})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	var body strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&body, "%s  %s\n", e.digest, e.id.filename())
	}
	content := body.String()

	if l.signer != nil {
		digestHash := ethcrypto.Keccak256([]byte(content))
		sig, err := ethcrypto.Sign(digestHash, l.signer)
		if err != nil {
			return fmt.Errorf("logtrace: sign manifest: %w", err)
		}
		content += "signature=" + hex.EncodeToString(sig) + "\n"
	}

	return os.WriteFile(filepath.Join(l.dir, "MANIFEST.sha256"), []byte(content), 0o644)
}

// VerifyManifest recomputes the SHA-256 digest of every log file named
// in dir/MANIFEST.sha256 and compares it against the recorded value,
// the offline cross-correlation step §4.10 describes.
func VerifyManifest(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, "MANIFEST.sha256"))
	if err != nil {
		return fmt.Errorf("logtrace: read manifest: %w", err)
	}

	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" || strings.HasPrefix(line, "signature=") {
			continue
		}
		parts := strings.SplitN(line, "  ", 2)
		if len(parts) != 2 {
			return fmt.Errorf("logtrace: malformed manifest line %q", line)
		}
		wantDigest, filename := parts[0], parts[1]

		contents, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			return fmt.Errorf("logtrace: read %s: %w", filename, err)
		}
		sum := sha256.Sum256(contents)
		gotDigest := hex.EncodeToString(sum[:])
		if gotDigest != wantDigest {
			return fmt.Errorf("logtrace: digest mismatch for %s: manifest=%s recomputed=%s", filename, wantDigest, gotDigest)
		}
	}
	return nil
}
