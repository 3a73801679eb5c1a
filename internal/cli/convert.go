package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goibibo/beatshim/internal/envelope"
	"github.com/goibibo/beatshim/internal/filebeat"
	"github.com/goibibo/beatshim/internal/interceptor"
	"github.com/goibibo/beatshim/internal/observability"
)

const convertUsage = `Usage: beatshim convert --input <line|-> [options]

Convert Filebeat events and print the result as an envelope line,
or "dropped" when the event would not be forwarded.

Options:
  --input <line>        Event body to convert, or - to read one event per stdin line (required)
  --preserve-existing   Keep an existing timestamp header
  --header <k=v>        Set an input header (repeatable)
  --log-level <level>   debug, info, warn or error (default: BEATSHIM_LOG_LEVEL or info)

Examples:
  beatshim convert --input '{"@timestamp":"2016-07-09T01:01:01.001Z","beat":{"hostname":"h","name":"n"},"message":"m"}'
  beatshim convert --input - --preserve-existing --header timestamp=0 < events.log`

// RunConvert converts events given on the command line and prints the result.
func RunConvert(args []string) error {
	return runConvert(args, os.Stdin, os.Stdout, os.Stderr)
}

func runConvert(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		_, _ = fmt.Fprintln(stdout, convertUsage)
		return nil
	}

	var (
		input    string
		hasInput bool
		preserve bool
		logLevel string
		headers  = map[string]string{}
	)
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--input" && i+1 < len(args):
			input, hasInput = args[i+1], true
			i++
		case strings.HasPrefix(args[i], "--input="):
			input, hasInput = strings.TrimPrefix(args[i], "--input="), true
		case args[i] == "--preserve-existing":
			preserve = true
		case args[i] == "--header" && i+1 < len(args):
			if err := parseHeader(args[i+1], headers); err != nil {
				return err
			}
			i++
		case strings.HasPrefix(args[i], "--header="):
			if err := parseHeader(strings.TrimPrefix(args[i], "--header="), headers); err != nil {
				return err
			}
		case args[i] == "--log-level" && i+1 < len(args):
			logLevel = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--log-level="):
			logLevel = strings.TrimPrefix(args[i], "--log-level=")
		default:
			return fmt.Errorf("unknown argument %q\nRun 'beatshim convert -h' for usage", args[i])
		}
	}
	if !hasInput {
		return fmt.Errorf("--input is required")
	}

	logger := observability.NewLogger(stderr, "convert", observability.GetLogLevel(logLevel))
	fb := filebeat.New(filebeat.Config{PreserveExisting: preserve}, filebeat.WithLogger(logger))
	defer func() { _ = fb.Close() }()

	if input != "-" {
		return convertOne(fb, []byte(input), headers, stdout)
	}

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if err := convertOne(fb, scanner.Bytes(), headers, stdout); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

func convertOne(fb *filebeat.Interceptor, body []byte, headers map[string]string, out io.Writer) error {
	req := &interceptor.Request{
		Payload: append([]byte(nil), body...),
		Headers: copyHeaders(headers),
	}
	res, err := fb.Process(context.Background(), req)
	if errors.Is(err, interceptor.ErrDropped) {
		_, err = fmt.Fprintln(out, "dropped")
		return err
	}
	if err != nil {
		return err
	}
	line, err := envelope.Encode(res.Payload, res.Headers)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(line))
	return err
}

func parseHeader(kv string, into map[string]string) error {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return fmt.Errorf("invalid header %q: expected key=value", kv)
	}
	into[k] = v
	return nil
}

func copyHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
