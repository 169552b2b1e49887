// Package filereplay ingests an existing log file line by line into a
// record sink.
package filereplay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/OldManSaturn/siem-saltbuild/internal/logparse"
	"github.com/OldManSaturn/siem-saltbuild/internal/model"
)

// MaxLineSize is the longest line accepted before the replay fails.
const MaxLineSize = 1024 * 1024 // 1MB

// StdinPath makes Ingest read from standard input.
const StdinPath = "-"

// Ingest replays the file at path into sink, one FILE record per line, with
// the path as the record source. It stops at the first read or sink error and
// returns the number of records persisted so far.
func Ingest(ctx context.Context, path string, sink model.RecordSink) (int, error) {
	if path == StdinPath {
		return IngestReader(ctx, os.Stdin, "stdin", sink)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	n, err := IngestReader(ctx, f, path, sink)
	if err != nil {
		return n, err
	}
	log.Printf("filereplay: finished ingesting %s (%d records)", path, n)
	return n, nil
}

// IngestReader replays r into sink using source as the record source.
func IngestReader(ctx context.Context, r io.Reader, source string, sink model.RecordSink) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)

	var n int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line := model.DecodeLossy(scanner.Bytes())
		record := logparse.Parse(model.ProtocolFILE, source, line)
		if err := sink.Persist(record); err != nil {
			return n, fmt.Errorf("persist line %d of %s: %w", n+1, source, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("read %s: %w", source, err)
	}
	return n, nil
}
