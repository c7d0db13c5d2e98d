package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/turtacn/chemsearch/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/pkg/errors"
)

const enqueueBatchSize = 500

type enqueueReport struct {
	Topic     string `json:"topic"`
	Published int    `json:"published"`
	Failed    int    `json:"failed"`
}

func (r enqueueReport) TableHeaders() []string { return []string{"TOPIC", "PUBLISHED", "FAILED"} }

func (r enqueueReport) TableRows() [][]string {
	return [][]string{{r.Topic, fmt.Sprint(r.Published), fmt.Sprint(r.Failed)}}
}

func newEnqueueCmd(deps Deps) *cobra.Command {
	var file, format, topic string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish structures from a file to the ingest topic",
		Long: "Publishes one structure message per input line to Kafka, where the\n" +
			"ingest worker indexes them.  Input formats match the ingest command.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if topic == "" {
				topic = cc.Config.Kafka.Topic
			}
			if format == "" {
				format = detectFormat(file)
			}
			in, err := openInput(cmd.Context(), cmd, cc, deps, file)
			if err != nil {
				return err
			}
			defer in.Close()
			lines, err := newLineReader(in, format)
			if err != nil {
				return err
			}

			pub, err := deps.NewPublisher(cc)
			if err != nil {
				return err
			}
			defer pub.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cc.Timeout)
			defer cancel()
			report, err := runEnqueue(ctx, cc, pub, lines, topic)
			if printErr := PrintResult(cmd, report); printErr != nil && err == nil {
				err = printErr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "input file, - for stdin, or s3://bucket/key (required)")
	cmd.Flags().StringVar(&format, "format", "", "input format: smi|jsonl (default: by extension)")
	cmd.Flags().StringVar(&topic, "topic", "", "target topic (default: kafka.topic)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// runEnqueue stamps every message with the selected kind and publishes in
// batches.  Lines are validated locally only as far as the message format.
func runEnqueue(ctx context.Context, cc *CLIContext, pub StructurePublisher, lines *lineReader, topic string) (enqueueReport, error) {
	report := enqueueReport{Topic: topic}
	batch := make([]kafka.StructureMessage, 0, enqueueBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := pub.PublishStructures(ctx, topic, batch)
		if err != nil {
			return err
		}
		report.Published += res.Succeeded
		report.Failed += res.Failed
		for i, ferr := range res.Failures {
			cc.Logger.Warn("publish failed", logging.String("structure", batch[i].Structure), logging.Err(ferr))
		}
		batch = batch[:0]
		return nil
	}

	for {
		msg, err := lines.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, errors.Wrapf(err, errors.CodeUnknown, "line %d", lines.line)
		}
		if msg.Kind == "" {
			msg.Kind = string(cc.Kind)
		}
		batch = append(batch, msg)
		if len(batch) == enqueueBatchSize {
			if err := flush(); err != nil {
				return report, err
			}
		}
	}
	return report, flush()
}
