// scribe is the companion CLI for the scribed daemon. It publishes
// recognition requests over the bus and streams the resulting events.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/scribekit/scribed/internal/protocol"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'transcribe', 'stop', or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "transcribe":
		if err := runTranscribe(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "stop":
		if err := runStop(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runTranscribe(args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	server := fs.String("server", nats.DefaultURL, "Bus server URL")
	file := fs.String("file", "", "Media file to transcribe")
	language := fs.String("language", "", "Language code, empty uses the daemon's setting")
	backend := fs.String("backend", "", "Pin a backend: 'local' or 'remote'")
	output := fs.String("output", "", "Keep extracted audio at this path")
	timeout := fs.Duration("timeout", 5*time.Minute, "How long to wait for a transcript")
	quiet := fs.Bool("quiet", false, "Suppress progress output")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("missing required -file flag")
	}
	src, err := filepath.Abs(*file)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", *file, err)
	}

	nc, err := nats.Connect(*server, nats.Name("scribe"))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", *server, err)
	}
	defer nc.Close()

	id := uuid.NewString()
	transcripts := make(chan protocol.RecognitionTranscript, 1)
	failures := make(chan protocol.RecognitionError, 1)

	subProgress, err := nc.Subscribe(protocol.SubjectRecognitionProgress, func(msg *nats.Msg) {
		var evt protocol.RecognitionProgress
		if json.Unmarshal(msg.Data, &evt) != nil || evt.RequestID != id {
			return
		}
		if !*quiet {
			fmt.Fprintf(os.Stderr, "%s %d%%\n", evt.Stage, evt.Percent)
		}
	})
	if err != nil {
		return err
	}
	defer subProgress.Unsubscribe()

	subTranscript, err := nc.Subscribe(protocol.SubjectRecognitionTranscript, func(msg *nats.Msg) {
		var evt protocol.RecognitionTranscript
		if json.Unmarshal(msg.Data, &evt) != nil || evt.RequestID != id {
			return
		}
		select {
		case transcripts <- evt:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer subTranscript.Unsubscribe()

	subError, err := nc.Subscribe(protocol.SubjectRecognitionError, func(msg *nats.Msg) {
		var evt protocol.RecognitionError
		if json.Unmarshal(msg.Data, &evt) != nil || evt.RequestID != id {
			return
		}
		select {
		case failures <- evt:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer subError.Unsubscribe()

	req := protocol.RecognitionRequest{
		RequestID:  id,
		SourcePath: src,
		OutputPath: *output,
		Language:   *language,
		Backend:    *backend,
		Timestamp:  time.Now().UTC(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := nc.Publish(protocol.SubjectRecognitionRequest, data); err != nil {
		return fmt.Errorf("publish request: %w", err)
	}
	if err := nc.Flush(); err != nil {
		return err
	}

	select {
	case evt := <-transcripts:
		fmt.Println(evt.Text)
		if !*quiet {
			fmt.Fprintf(os.Stderr, "backend=%s language=%s took=%dms\n", evt.Backend, evt.Language, evt.DurationMS)
		}
		return nil
	case evt := <-failures:
		return fmt.Errorf("recognition failed (%s): %s", evt.Kind, evt.Detail)
	case <-time.After(*timeout):
		return fmt.Errorf("timed out after %s waiting for a transcript", *timeout)
	}
}

func runStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	server := fs.String("server", nats.DefaultURL, "Bus server URL")
	request := fs.String("request", "", "Stop only this request ID")
	fs.Parse(args)

	nc, err := nats.Connect(*server, nats.Name("scribe"))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", *server, err)
	}
	defer nc.Close()

	data, err := json.Marshal(protocol.RecognitionStop{RequestID: *request, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := nc.Publish(protocol.SubjectRecognitionStop, data); err != nil {
		return fmt.Errorf("publish stop: %w", err)
	}
	return nc.Flush()
}
