package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinal-relay/internal/callstate"
	"sentinal-relay/internal/client"
	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/events"
	"sentinal-relay/pkg/logger"
)

const usage = `
Sentinal Relay - command line client

Usage:
  relayctl [global flags] <command> [command flags]

Commands:
  listen      Print incoming events; -answer accepts calls with dry-run media
  send        Send one message and wait for the echo
  call        Place a call with dry-run media, hang up after -for

Global flags:
  -server string   Relay base URL (default "http://localhost:8080", env RELAY_URL)
  -token string    Access token (env RELAY_TOKEN)
  -v               Verbose logging

Examples:
  relayctl -token $T listen -answer
  relayctl -token $T send -conv <id> -text "hello"
  relayctl -token $T call -conv <id> -peer <user id> -video -for 10s
`

func main() {
	server := flag.String("server", envOr("RELAY_URL", "http://localhost:8080"), "Relay base URL")
	token := flag.String("token", os.Getenv("RELAY_TOKEN"), "Access token")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 || *token == "" {
		flag.Usage()
		os.Exit(2)
	}

	mode := logger.ProductionMode
	if *verbose {
		mode = logger.DevelopmentMode
	}
	l := logger.New(mode)
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "listen":
		err = runListen(ctx, *server, *token, args, l)
	case "send":
		err = runSend(ctx, *server, *token, args, l)
	case "call":
		err = runCall(ctx, *server, *token, args, l)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		l.Error("relayctl failed", zap.Error(err))
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func printEvent(ev events.Event) {
	out, err := json.Marshal(struct {
		Type    events.Kind  `json:"type"`
		Payload events.Event `json:"payload"`
	}{ev.Kind(), ev})
	if err != nil {
		return
	}
	fmt.Println(string(out))
}

// printer shows call notices on stdout.
type printer struct{}

func (printer) Present(n callstate.Notify) {
	line := fmt.Sprintf("call %s: %s (peer %s)", n.CallID, n.Kind, n.PeerID)
	if n.Reason != "" {
		line += " reason=" + n.Reason
	}
	fmt.Println(line)
}

func runListen(ctx context.Context, server, token string, args []string, l *logger.Logger) error {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	answer := fs.Bool("answer", false, "Accept incoming calls with dry-run media")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := client.Dial(ctx, server, token, l)
	if err != nil {
		return err
	}
	defer c.Close()

	var calls *callstate.Controller
	if *answer {
		self, err := client.TokenSubject(token)
		if err != nil {
			return err
		}
		calls = callstate.NewController(self, callstate.NewDryRunMedia(), c, printer{}, l)
	}
	for {
		select {
		case <-ctx.Done():
			if calls != nil {
				calls.Hangup(context.Background())
			}
			return ctx.Err()
		case ev, ok := <-c.Events():
			if !ok {
				return c.Err()
			}
			printEvent(ev)

			sig, isSignal := ev.(events.Signal)
			if !isSignal || !*answer {
				continue
			}
			calls.HandleSignal(ctx, sig)
			if calls.State() == callstate.Incoming {
				if err := calls.Accept(ctx); err != nil {
					l.Warn("accept failed", zap.Error(err))
				}
			}
		}
	}
}

func runSend(ctx context.Context, server, token string, args []string, l *logger.Logger) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	conv := fs.String("conv", "", "Conversation id")
	text := fs.String("text", "", "Message text")
	wait := fs.Duration("wait", 5*time.Second, "How long to wait for the echo")
	if err := fs.Parse(args); err != nil {
		return err
	}
	convID, err := uuid.Parse(*conv)
	if err != nil {
		return fmt.Errorf("bad -conv: %w", err)
	}

	c, err := client.Dial(ctx, server, token, l)
	if err != nil {
		return err
	}
	defer c.Close()

	clientID := uuid.NewString()
	if err := c.Send(ctx, events.SendMessage{ConversationID: convID, Content: *text, ClientMessageID: clientID}); err != nil {
		return err
	}

	timeout := time.After(*wait)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("no echo within %s", *wait)
		case ev, ok := <-c.Events():
			if !ok {
				return c.Err()
			}
			switch e := ev.(type) {
			case events.NewMessage:
				if e.Own && e.ClientMessageID == clientID {
					fmt.Printf("sent %s\n", e.MessageID)
					return nil
				}
			case events.Error:
				if e.RequestKind == events.KindSendMessage {
					return fmt.Errorf("%s: %s", e.Code, e.Message)
				}
			}
		}
	}
}

func runCall(ctx context.Context, server, token string, args []string, l *logger.Logger) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	conv := fs.String("conv", "", "Conversation id")
	peer := fs.String("peer", "", "User id to call")
	video := fs.Bool("video", false, "Video call")
	hold := fs.Duration("for", 10*time.Second, "Hang up after this long once connected")
	if err := fs.Parse(args); err != nil {
		return err
	}
	convID, err := uuid.Parse(*conv)
	if err != nil {
		return fmt.Errorf("bad -conv: %w", err)
	}
	peerID, err := uuid.Parse(*peer)
	if err != nil {
		return fmt.Errorf("bad -peer: %w", err)
	}
	selfID, err := client.TokenSubject(token)
	if err != nil {
		return err
	}
	callType := domain.CallTypeVoice
	if *video {
		callType = domain.CallTypeVideo
	}

	c, err := client.Dial(ctx, server, token, l)
	if err != nil {
		return err
	}
	defer c.Close()

	calls := callstate.NewController(selfID, callstate.NewDryRunMedia(), c, printer{}, l)
	callID, err := calls.StartCall(ctx, convID, peerID, callType)
	if err != nil {
		return err
	}
	l.Info("calling", zap.String("call_id", callID), zap.String("peer", peerID.String()))

	var hangup <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			calls.Hangup(context.Background())
			return ctx.Err()
		case <-hangup:
			calls.Hangup(ctx)
			return nil
		case ev, ok := <-c.Events():
			if !ok {
				return c.Err()
			}
			if e, isErr := ev.(events.Error); isErr {
				fmt.Printf("relay error %s: %s\n", e.Code, e.Message)
				calls.Hangup(ctx)
				return nil
			}
			sig, isSignal := ev.(events.Signal)
			if !isSignal {
				continue
			}
			calls.HandleSignal(ctx, sig)
			switch calls.State() {
			case callstate.Active:
				if hangup == nil {
					hangup = time.After(*hold)
				}
			case callstate.Idle:
				return nil
			}
		}
	}
}
