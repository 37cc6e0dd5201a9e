package kafka

import (
	"crypto/tls"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-ini/ini"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

// Connection is one named broker connection from kafka.conf.
type Connection struct {
	Name               string
	Brokers            []string
	ClientID           string
	Acks               string
	Compression        string
	Linger             time.Duration
	MaxBufferedRecords int
	TLS                bool
	SASLUsername       string
	SASLPassword       string
}

const defaultClientID = "ami-kafka"

var iniOptions = ini.LoadOptions{
	KeyValueDelimiters:       "=",
	IgnoreContinuation:       true,
	SpaceBeforeInlineComment: true,
	InsensitiveKeys:          true,
}

// LoadConnections reads every `type = connection` section of kafka.conf.
func LoadConnections(path string) (map[string]Connection, error) {
	f, err := ini.LoadSources(iniOptions, path)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return parseConnections(f)
}

// ParseConnections reads kafka.conf content from memory.
func ParseConnections(data []byte) (map[string]Connection, error) {
	f, err := ini.LoadSources(iniOptions, data)
	if err != nil {
		return nil, errors.Wrap(err, "load kafka config")
	}
	return parseConnections(f)
}

func parseConnections(f *ini.File) (map[string]Connection, error) {
	conns := make(map[string]Connection)
	for _, sec := range f.Sections() {
		if sec.Key("type").String() != "connection" {
			continue
		}
		c := Connection{
			Name:               sec.Name(),
			ClientID:           sec.Key("client_id").MustString(defaultClientID),
			Acks:               strings.ToLower(sec.Key("acks").MustString("all")),
			Compression:        strings.ToLower(sec.Key("compression").MustString("none")),
			Linger:             time.Duration(sec.Key("linger_ms").MustInt(0)) * time.Millisecond,
			MaxBufferedRecords: sec.Key("max_buffered_records").MustInt(0),
			TLS:                sec.Key("tls").MustBool(false),
			SASLUsername:       sec.Key("sasl_username").String(),
			SASLPassword:       sec.Key("sasl_password").String(),
		}
		for _, b := range strings.Split(sec.Key("brokers").String(), ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Brokers = append(c.Brokers, b)
			}
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		conns[c.Name] = c
	}
	return conns, nil
}

func (c Connection) validate() error {
	if len(c.Brokers) == 0 {
		return errors.Newf("connection %q: brokers is required", c.Name)
	}
	switch c.Acks {
	case "all", "leader", "none":
	default:
		return errors.Newf("connection %q: invalid acks %q", c.Name, c.Acks)
	}
	if _, err := compressionCodec(c.Compression); err != nil {
		return errors.Wrapf(err, "connection %q", c.Name)
	}
	if c.MaxBufferedRecords < 0 {
		return errors.Newf("connection %q: max_buffered_records must be >= 0", c.Name)
	}
	if (c.SASLUsername == "") != (c.SASLPassword == "") {
		return errors.Newf("connection %q: sasl_username and sasl_password must be set together", c.Name)
	}
	return nil
}

func compressionCodec(name string) (kgo.CompressionCodec, error) {
	switch name {
	case "", "none":
		return kgo.NoCompression(), nil
	case "gzip":
		return kgo.GzipCompression(), nil
	case "snappy":
		return kgo.SnappyCompression(), nil
	case "lz4":
		return kgo.Lz4Compression(), nil
	case "zstd":
		return kgo.ZstdCompression(), nil
	default:
		return kgo.NoCompression(), errors.Newf("unknown compression %q", name)
	}
}

// clientOptions translates the connection into franz-go client options.
func (c Connection) clientOptions() ([]kgo.Opt, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	codec, _ := compressionCodec(c.Compression)

	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.ClientID(c.ClientID),
		kgo.ProducerBatchCompression(codec),
	}
	switch c.Acks {
	case "leader":
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	case "none":
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}
	if c.Linger > 0 {
		opts = append(opts, kgo.ProducerLinger(c.Linger))
	}
	if c.MaxBufferedRecords > 0 {
		opts = append(opts, kgo.MaxBufferedRecords(c.MaxBufferedRecords))
	}
	if c.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	if c.SASLUsername != "" {
		opts = append(opts, kgo.SASL(plain.Auth{User: c.SASLUsername, Pass: c.SASLPassword}.AsMechanism()))
	}
	return opts, nil
}
