package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentdeck/agentdeck/internal/protocol"
)

// errMalformedEvent marks an event whose payload could not be decoded. The
// SSE blank-line framing is still intact, so the stream remains usable and
// the consumer skips to the next event instead of tearing the channel down.
var errMalformedEvent = errors.New("malformed tail event")

// TailEvent is one parsed event from a file-tail stream.
type TailEvent struct {
	Kind      string
	Content   string
	Data      string
	Truncated bool
	Message   string
}

// TailStream is one live tail connection delivering events in order.
type TailStream interface {
	Next(ctx context.Context) (TailEvent, error)
	Close() error
}

// TailDialer opens tail streams. Injectable for controller tests.
type TailDialer interface {
	Watch(ctx context.Context, path string, follow bool) (TailStream, error)
}

// SSEDialer watches files via the daemon's SSE tail endpoint.
type SSEDialer struct {
	// BaseURL is the daemon's HTTP base, e.g. "http://127.0.0.1:18790".
	BaseURL string

	// Client defaults to http.DefaultClient.
	Client *http.Client
}

func (d *SSEDialer) Watch(ctx context.Context, path string, follow bool) (TailStream, error) {
	endpoint := fmt.Sprintf("%s/events/tail?path=%s&follow=%t",
		d.BaseURL, url.QueryEscape(path), follow)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	httpClient := d.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("tail watch rejected: %s", resp.Status)
	}
	return &sseStream{resp: resp, reader: bufio.NewReader(resp.Body)}, nil
}

// sseStream parses the text/event-stream wire format: "event:" and "data:"
// lines terminated by a blank line per event.
type sseStream struct {
	resp   *http.Response
	reader *bufio.Reader
}

func (s *sseStream) Next(_ context.Context) (TailEvent, error) {
	var name, data string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return TailEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if name == "" {
				continue
			}
			return decodeTailEvent(name, data)
		}
	}
}

func (s *sseStream) Close() error {
	return s.resp.Body.Close()
}

func decodeTailEvent(name, data string) (TailEvent, error) {
	ev := TailEvent{Kind: name}
	switch name {
	case protocol.TailInitial, protocol.TailReplace:
		var snap protocol.TailSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return ev, fmt.Errorf("%w: decode %s payload: %v", errMalformedEvent, name, err)
		}
		ev.Content = snap.Content
		ev.Truncated = snap.Truncated
	case protocol.TailAppend:
		var delta protocol.TailDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			return ev, fmt.Errorf("%w: decode append payload: %v", errMalformedEvent, err)
		}
		ev.Data = delta.Data
	case protocol.TailError:
		var failure protocol.TailFailure
		if err := json.Unmarshal([]byte(data), &failure); err != nil {
			return ev, fmt.Errorf("%w: decode error payload: %v", errMalformedEvent, err)
		}
		ev.Message = failure.Message
	default:
		return ev, fmt.Errorf("%w: unknown kind %q", errMalformedEvent, name)
	}
	return ev, nil
}
