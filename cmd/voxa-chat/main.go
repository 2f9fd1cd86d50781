// voxa-chat is an interactive voice and text client. It mints a token from a
// broker, opens a realtime session, and mixes spoken turns with typed ones.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxa-go/voxa/pkg/audio"
	"github.com/voxa-go/voxa/pkg/core/credentials"
	"github.com/voxa-go/voxa/pkg/core/realtime"
	"github.com/voxa-go/voxa/pkg/core/types"
)

func main() {
	godotenv.Load()

	brokerURL := flag.String("broker", "http://localhost:8090/api/session", "credential broker endpoint")
	transportKind := flag.String("transport", "webrtc", "transport: webrtc or websocket")
	model := flag.String("model", "", "override the realtime model")
	voice := flag.String("voice", "", "override the voice")
	instructions := flag.String("instructions", "", "system instructions")
	textOnly := flag.Bool("text", false, "text only, no microphone")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg := realtime.DefaultConfig()
	if *model != "" {
		cfg.Model = *model
	}
	if *voice != "" {
		cfg.Voice = *voice
	}
	cfg.Instructions = *instructions
	cfg.Tools = []types.Tool{
		types.NewFunctionTool("get_current_time", "Get the current local time.", nil),
		types.NewFunctionTool("random_number", "Pick a random integer in a range.",
			map[string]types.ToolProperty{
				"min": {Type: "integer", Description: "Lower bound, inclusive."},
				"max": {Type: "integer", Description: "Upper bound, inclusive."},
			}),
	}

	creds, err := credentials.NewBroker(*brokerURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "broker:", err)
		os.Exit(1)
	}

	var speaker *audio.Speaker
	if !*textOnly {
		speaker, err = audio.NewSpeaker(audio.DefaultSampleRate, audio.DefaultChannels)
		if err != nil {
			fmt.Fprintln(os.Stderr, "speaker:", err)
			os.Exit(1)
		}
		defer speaker.Close()
	}

	factory := newTransportFactory(*transportKind, *textOnly)

	opts := []realtime.Option{realtime.WithDebug(*debug)}
	if speaker != nil {
		opts = append(opts, realtime.WithPlayback(speaker))
	}
	session, err := realtime.NewSession(cfg, creds, factory, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "session:", err)
		os.Exit(1)
	}

	registerTools(session)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchEvents(session)

	fmt.Println("commands: /start /stop /conv /log /usage /quit, anything else is sent as text")
	if err := session.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			session.Stop()
			return
		case line == "/start":
			if err := session.Start(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "start:", err)
			}
		case line == "/stop":
			session.Stop()
		case line == "/conv":
			printConversation(session.Conversation())
		case line == "/log":
			printRawLog(session.RawEvents())
		case line == "/usage":
			u := session.Usage()
			fmt.Printf("tokens: total=%d input=%d output=%d\n",
				u.TotalTokens, u.InputTokens, u.OutputTokens)
		default:
			if err := session.SendText(line); err != nil {
				fmt.Fprintln(os.Stderr, "send:", err)
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	session.Stop()
}

// newTransportFactory builds the per-start transport, acquiring the
// microphone fresh each time so a stopped session releases the device.
func newTransportFactory(kind string, textOnly bool) realtime.TransportFactory {
	return func(cfg realtime.Config, pcm realtime.PCMWriter) (realtime.Transport, error) {
		var mic io.ReadCloser
		if !textOnly {
			var err error
			mic, err = audio.NewMic(audio.DefaultSampleRate, audio.DefaultChannels)
			if err != nil {
				return nil, err
			}
		}

		if kind == "websocket" {
			return realtime.NewSocketTransport(cfg, pcm, mic), nil
		}

		var enc realtime.OpusReader
		if mic != nil {
			var err error
			enc, err = audio.NewFFmpegOpusCapture(mic, audio.DefaultSampleRate, audio.DefaultChannels)
			if err != nil {
				mic.Close()
				return nil, err
			}
		}
		return realtime.NewPeerTransport(cfg, pcm, enc), nil
	}
}

func registerTools(session *realtime.Session) {
	session.RegisterFunction("get_current_time", func(ctx context.Context, args json.RawMessage) (any, error) {
		return map[string]string{"time": time.Now().Format(time.RFC1123)}, nil
	})
	session.RegisterFunction("random_number", func(ctx context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Min int `json:"min"`
			Max int `json:"max"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		if in.Max <= in.Min {
			return nil, fmt.Errorf("max must be greater than min")
		}
		return map[string]int{"value": in.Min + rand.Intn(in.Max-in.Min+1)}, nil
	})
}

// watchEvents prints status changes and newly finalized turns.
func watchEvents(session *realtime.Session) {
	printed := 0
	for ev := range session.Events() {
		switch e := ev.(type) {
		case *realtime.StatusChangedEvent:
			fmt.Println("--", e.Status)
		case *realtime.ConversationUpdatedEvent:
			turns := session.Conversation()
			for ; printed < len(turns); printed++ {
				if !turns[printed].IsFinal {
					break
				}
				fmt.Printf("[%s] %s\n", turns[printed].Role, turns[printed].Text)
			}
		case *realtime.SessionEndedEvent:
			printed = 0
		}
	}
}

func printConversation(turns []types.Turn) {
	for _, t := range turns {
		marker := " "
		if !t.IsFinal {
			marker = "~"
		}
		fmt.Printf("%s [%s] %s\n", marker, t.Role, t.Text)
	}
}

func printRawLog(events []types.RawEvent) {
	for _, ev := range events {
		fmt.Printf("%s %-10s %s %s\n",
			ev.Received.Format("15:04:05.000"), ev.Role, ev.Type, ev.Content)
	}
}
