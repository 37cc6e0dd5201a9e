package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vsgroup/ami-kafka/internal/amievent"
	"github.com/vsgroup/ami-kafka/internal/conf"
	"github.com/vsgroup/ami-kafka/internal/kafka"
	"github.com/vsgroup/ami-kafka/internal/model"
	"github.com/vsgroup/ami-kafka/internal/publisher"
)

// errCheckFailed is returned after the report is printed so the exit status
// is non-zero without repeating the report on stderr.
var errCheckFailed = errors.New("configuration has errors")

type checkReport struct {
	Module     string      `yaml:"module"`
	Enabled    bool        `yaml:"enabled"`
	Format     string      `yaml:"format"`
	Connection string      `yaml:"connection"`
	Topic      string      `yaml:"topic"`
	Strict     bool        `yaml:"strict_filters"`
	Filters    []conf.Rule `yaml:"filters"`
	Errors     []string    `yaml:"errors,omitempty"`
}

// runCheck compiles the module configuration and prints every filter.
// Compile errors are reported even with strict_filters set.
func runCheck(cfg appConfig, w io.Writer, output string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings, err := conf.LoadModule(cfg.ModuleConfig, logger)
	if err != nil {
		return err
	}
	strict := settings.StrictFilters
	settings.StrictFilters = false
	snap, err := conf.Build(settings, logger)
	if err != nil {
		return err
	}

	report := checkReport{
		Module:     cfg.ModuleConfig,
		Enabled:    snap.Enabled,
		Format:     snap.Format.String(),
		Connection: snap.Connection,
		Topic:      snap.Topic,
		Strict:     strict,
		Filters:    snap.Describe(),
	}
	for _, cerr := range snap.Errors {
		report.Errors = append(report.Errors, cerr.Error())
	}
	if snap.Enabled {
		if err := checkConnection(cfg.KafkaConfig, snap.Connection); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}

	switch output {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return errors.Wrap(err, "encode report")
		}
		if err := enc.Close(); err != nil {
			return err
		}
	case "text", "":
		writeCheckText(w, report)
	default:
		return errors.Newf("unknown output format %q (want text or yaml)", output)
	}

	if len(report.Errors) > 0 {
		return errCheckFailed
	}
	return nil
}

func checkConnection(path, name string) error {
	if name == "" {
		return errors.New("[kafka] connection is not set")
	}
	conns, err := kafka.LoadConnections(path)
	if err != nil {
		return err
	}
	if _, ok := conns[name]; !ok {
		return errors.Newf("kafka connection %q not found in %s", name, path)
	}
	return nil
}

func writeCheckText(w io.Writer, r checkReport) {
	fmt.Fprintf(w, "module:      %s\n", r.Module)
	fmt.Fprintf(w, "enabled:     %t\n", r.Enabled)
	fmt.Fprintf(w, "format:      %s\n", r.Format)
	fmt.Fprintf(w, "connection:  %s\n", r.Connection)
	fmt.Fprintf(w, "topic:       %s\n", r.Topic)
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tEVENT\tHEADER\tMETHOD\tPATTERN")
	for _, rule := range r.Filters {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rule.Action, orDash(rule.Event), orDash(rule.Header), rule.Method, orDash(rule.Pattern))
	}
	_ = tw.Flush()

	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "\n%d error(s):\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// dryRunProducer stands in for a resolvable connection; eval never produces.
type dryRunProducer struct{}

func (dryRunProducer) Produce(string, string, []byte) error { return nil }

// runEval reports what the daemon would do with one event.
func runEval(cfg appConfig, w io.Writer, eventName, bodyFile string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	snap, err := conf.Load(cfg.ModuleConfig, logger)
	if err != nil {
		return err
	}

	body, err := readEvalBody(eventName, bodyFile)
	if err != nil {
		return err
	}

	pub := publisher.New(publisher.Config{
		Encoder: amievent.NewEncoder(cfg.identity()),
		Logger:  logger,
	})
	var producer publisher.Producer
	if conns, err := kafka.LoadConnections(cfg.KafkaConfig); err == nil {
		if _, ok := conns[snap.Connection]; ok {
			producer = dryRunProducer{}
		}
	} else {
		logger.Warn("kafka config unavailable, events will be unrouted", zap.Error(err))
	}
	pub.Reload(snap, producer)

	res := pub.Evaluate(model.Event{Source: "eval", Name: eventName, Body: body})
	fmt.Fprintf(w, "result:  %s\n", res.Result)
	fmt.Fprintf(w, "send:    %t\n", res.Send)
	if res.Payload != "" {
		fmt.Fprintf(w, "topic:   %s\n", res.Topic)
		fmt.Fprintf(w, "key:     %s\n", res.Key)
		fmt.Fprintf(w, "format:  %s\n", res.Format)
		fmt.Fprintf(w, "payload:\n%s\n", res.Payload)
	}
	return nil
}

// readEvalBody reads the frame from a file, "-" for stdin, or builds a
// minimal one from the event name.
func readEvalBody(eventName, bodyFile string) (string, error) {
	var data []byte
	var err error
	switch bodyFile {
	case "":
		return fmt.Sprintf("Event: %s\r\n\r\n", eventName), nil
	case "-":
		data, err = io.ReadAll(os.Stdin)
	default:
		data, err = os.ReadFile(bodyFile)
	}
	if err != nil {
		return "", errors.Wrap(err, "read event body")
	}
	return string(data), nil
}

var outputFormats = []string{"text", "yaml"}

func validOutput(s string) bool { return slices.Contains(outputFormats, s) }
