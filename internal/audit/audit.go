// Package audit writes an append-only JSONL event stream (connects,
// chat, builds, admin actions) compressed with zstd and rotated hourly.
// Writes are fed through a buffered channel so the world loop never
// blocks on log I/O.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

type Entry struct {
	Time   string `json:"time"`
	Kind   string `json:"kind"` // connect, disconnect, chat, build, admin
	Conn   int64  `json:"conn"`
	User   string `json:"user,omitempty"`
	MapID  int64  `json:"map,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type Logger struct {
	baseDir string

	ch   chan Entry
	wg   sync.WaitGroup
	once sync.Once

	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewLogger(baseDir string) *Logger {
	l := &Logger{
		baseDir: baseDir,
		ch:      make(chan Entry, 4096),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop()
	}()
	return l
}

// Write queues an entry, dropping it if the writer has fallen behind.
func (l *Logger) Write(e Entry) {
	if l == nil {
		return
	}
	if e.Time == "" {
		e.Time = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.ch <- e:
	default:
	}
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		close(l.ch)
		l.wg.Wait()
	})
	return nil
}

func (l *Logger) loop() {
	defer l.closeFile()
	for e := range l.ch {
		hour := time.Now().UTC().Format("2006-01-02-15")
		if hour != l.curHour {
			if err := l.rotate(hour); err != nil {
				continue
			}
		}
		b, err := json.Marshal(e)
		if err != nil {
			continue
		}
		_, _ = l.w.Write(b)
		_ = l.w.WriteByte('\n')
		_ = l.w.Flush()
	}
}

func (l *Logger) rotate(hour string) error {
	l.closeFile()
	if err := os.MkdirAll(l.baseDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(l.baseDir, fmt.Sprintf("events-%s.jsonl.zst", hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f = f
	l.enc = enc
	l.w = bufio.NewWriterSize(enc, 64*1024)
	l.curHour = hour
	return nil
}

func (l *Logger) closeFile() {
	if l.w != nil {
		_ = l.w.Flush()
		l.w = nil
	}
	if l.enc != nil {
		_ = l.enc.Close()
		l.enc = nil
	}
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	l.curHour = ""
}
