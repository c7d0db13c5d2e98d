package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/record"
	"github.com/turtacn/chemsearch/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/internal/infrastructure/storage/minio"
	"github.com/turtacn/chemsearch/pkg/errors"
)

const (
	formatSMI   = "smi"
	formatJSONL = "jsonl"

	maxLineBytes = 1 << 20
)

// detectFormat picks the input format from the file extension: .jsonl and
// .ndjson hold one structure message per line, anything else is read as
// "<structure> [name]" lines.
func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return formatJSONL
	default:
		return formatSMI
	}
}

// openInput resolves the --file argument: "-" is stdin, s3://bucket/key is
// read through the object store, anything else is a local path.
func openInput(ctx context.Context, cmd *cobra.Command, cc *CLIContext, deps Deps, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	if bucket, key, ok := minio.ParseURI(path); ok {
		if deps.NewObjectStore == nil {
			return nil, errors.New(errors.ErrCodeValidation, "object storage input is not supported")
		}
		store, err := deps.NewObjectStore(cc)
		if err != nil {
			return nil, err
		}
		return store.Open(ctx, bucket, key)
	}
	if strings.HasPrefix(path, minio.URIScheme) {
		return nil, errors.Newf(errors.ErrCodeValidation, "malformed object URI %q (want s3://bucket/key)", path)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeValidation, "cannot open %s", path)
	}
	return fh, nil
}

// lineReader turns an input stream into structure messages.  Blank lines and
// lines starting with '#' are ignored.
type lineReader struct {
	sc     *bufio.Scanner
	format string
	line   int
}

func newLineReader(r io.Reader, format string) (*lineReader, error) {
	if format != formatSMI && format != formatJSONL {
		return nil, errors.Newf(errors.ErrCodeValidation, "unknown input format %q (want smi or jsonl)", format)
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &lineReader{sc: sc, format: format}, nil
}

// next returns io.EOF at end of input.  A parse error leaves the reader
// positioned after the offending line.
func (l *lineReader) next() (kafka.StructureMessage, error) {
	for l.sc.Scan() {
		l.line++
		text := strings.TrimSpace(l.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if l.format == formatJSONL {
			return kafka.DecodeStructureMessage([]byte(text))
		}
		fields := strings.Fields(text)
		msg := kafka.StructureMessage{Structure: fields[0]}
		if len(fields) > 1 {
			msg.Name = strings.Join(fields[1:], " ")
		}
		return msg, nil
	}
	if err := l.sc.Err(); err != nil {
		return kafka.StructureMessage{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to read input")
	}
	return kafka.StructureMessage{}, io.EOF
}

// fileSource is a record.Source over a lineReader.
type fileSource struct {
	lines      *lineReader
	engine     chem.Engine
	kind       chem.Kind
	skipErrors bool
	logger     logging.Logger
	skipped    int
}

func newFileSource(r io.Reader, format string, eng chem.Engine, kind chem.Kind, skipErrors bool, logger logging.Logger) (*fileSource, error) {
	lines, err := newLineReader(r, format)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &fileSource{lines: lines, engine: eng, kind: kind, skipErrors: skipErrors, logger: logger}, nil
}

func (s *fileSource) Next(ctx context.Context) (*record.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := s.lines.next()
		if err == io.EOF {
			return nil, io.EOF
		}
		var rec *record.Record
		if err == nil {
			rec, err = s.build(msg)
		}
		if err == nil {
			return rec, nil
		}
		if !s.skipErrors || errors.IsCode(err, errors.ErrCodeInternal) {
			return nil, errors.Wrapf(err, errors.CodeUnknown, "line %d", s.lines.line)
		}
		s.skipped++
		s.logger.Warn("skipping input line", logging.Int("line", s.lines.line), logging.Err(err))
	}
}

func (s *fileSource) build(msg kafka.StructureMessage) (*record.Record, error) {
	if msg.Kind != "" && msg.Kind != string(s.kind) {
		return nil, errors.Newf(errors.ErrCodeValidation, "line holds a %s, ingesting %s records", msg.Kind, s.kind)
	}
	st, err := s.engine.Parse(msg.Structure, s.kind)
	if err != nil {
		return nil, err
	}
	policy := record.Raise()
	if s.skipErrors {
		policy = record.Skip()
	}
	return record.Build(s.engine, st, s.kind,
		record.WithName(msg.Name),
		record.WithMetadata(msg.Metadata),
		record.WithErrorPolicy(policy))
}

// Skipped is the number of input lines dropped under skip-errors.
func (s *fileSource) Skipped() int { return s.skipped }

var _ record.Source = (*fileSource)(nil)
