// Package logger implements a per-batch in-memory log buffer.
//
// Detailed lines accumulate in a buffer while a batch is being ingested.
// If the batch fails, the buffer is replayed followed by the final error,
// so the log shows the full story only when something went wrong. If the
// batch succeeds, the buffer is dropped and a single summary line is
// printed.
//
// Thread safety comes from a dedicated logger goroutine fed by a command
// channel; there are no mutexes.
package logger

import (
	"bytes"
	"log"
	"strings"
	"time"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
)

type cmd struct {
	act     action
	batchID string
	message string // Append
	summary string // Success
	err     error  // FlushError
	when    time.Time
}

// Buffered channel absorbs bursts from large batches.
var ch = make(chan cmd, 128)

// Begin starts buffering for batchID.
func Begin(batchID string) { ch <- cmd{act: actBegin, batchID: batchID, when: time.Now()} }

// Append adds one detail line to the batch buffer. Lines for unknown
// batch IDs go straight to the log.
func Append(batchID, msg string) {
	ch <- cmd{act: actAppend, batchID: batchID, message: msg, when: time.Now()}
}

// Success drops the buffer and prints a one-line summary.
func Success(batchID, summary string) {
	ch <- cmd{act: actSuccess, batchID: batchID, summary: summary, when: time.Now()}
}

// FlushError replays the buffered lines and prints the final error.
func FlushError(batchID string, err error) {
	ch <- cmd{act: actFlushErr, batchID: batchID, err: err, when: time.Now()}
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.batchID] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.batchID]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				log.Print(c.message)
			}

		case actSuccess:
			log.Printf("[%-6s][Ingest] ✔ %s", c.batchID, c.summary)
			delete(buffers, c.batchID)

		case actFlushErr:
			if b := buffers[c.batchID]; b != nil {
				lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
				for _, ln := range lines {
					log.Print(ln)
				}
				delete(buffers, c.batchID)
			}
			log.Printf("[%-6s][ERROR] %v", c.batchID, c.err)
		}
	}
}
