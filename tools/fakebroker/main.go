// Package main runs the scripted AMQP 0-9-1 responder from
// internal/fakebroker as a standalone process, for poking at clients by
// hand or from scripts in other languages.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Thejuampi/amqp-client-go/internal/fakebroker"
)

var (
	flagAddr         = flag.String("addr", "127.0.0.1:5672", "listen address")
	flagWebSocket    = flag.Bool("websocket", false, "accept AMQP over WebSocket instead of raw TCP")
	flagVersion      = flag.String("protocol", "0-9", "protocol version advertised in connection.start, major-minor")
	flagChannelMax   = flag.Uint("channel-max", 2047, "channel max proposed in connection.tune")
	flagFrameMax     = flag.Uint("frame-max", 131072, "frame max proposed in connection.tune")
	flagHeartbeat    = flag.Uint("heartbeat", 60, "heartbeat proposed in connection.tune, in seconds")
	flagBeatInterval = flag.Duration("send-heartbeats", 0, "send heartbeat frames at this interval after open (0 disables)")
	flagSilent       = flag.Bool("silent", false, "stop all output after open-ok")
	flagSkipOpenOk   = flag.Bool("skip-open-ok", false, "never answer connection.open")
	flagIgnoreClose  = flag.Bool("ignore-close", false, "never answer connection.close")
	flagCloseCode    = flag.Uint("close-code", 0, "send connection.close with this reply code after open-ok (0 disables)")
	flagCloseText    = flag.String("close-text", "CONNECTION_FORCED", "reply text for -close-code")
	flagBlocked      = flag.String("blocked", "", "send connection.blocked with this reason after open-ok")
	flagChannels     = flag.Bool("channels", true, "answer channel.open with channel.open-ok")
	flagLogConn      = flag.Bool("log-conn", true, "log connect/disconnect events")
)

func options() (fakebroker.Options, error) {
	var major, minor uint8
	if _, err := fmt.Sscanf(*flagVersion, "%d-%d", &major, &minor); err != nil {
		return fakebroker.Options{}, fmt.Errorf("invalid -protocol %q: %w", *flagVersion, err)
	}
	if *flagChannelMax > 65535 || *flagHeartbeat > 65535 || *flagCloseCode > 65535 {
		return fakebroker.Options{}, fmt.Errorf("-channel-max, -heartbeat and -close-code must fit 16 bits")
	}

	result := fakebroker.Options{
		Addr:              *flagAddr,
		VersionMajor:      major,
		VersionMinor:      minor,
		ChannelMax:        uint16(*flagChannelMax),
		FrameMax:          uint32(*flagFrameMax),
		Heartbeat:         uint16(*flagHeartbeat),
		HeartbeatInterval: *flagBeatInterval,
		Silent:            *flagSilent,
		SkipOpenOk:        *flagSkipOpenOk,
		IgnoreClose:       *flagIgnoreClose,
		Blocked:           *flagBlocked,
		OpenChannels:      *flagChannels,
	}
	if *flagCloseCode != 0 {
		result.Close = &fakebroker.CloseRequest{ReplyCode: uint16(*flagCloseCode), ReplyText: *flagCloseText}
	}
	if *flagLogConn {
		result.Logf = log.Printf
	}
	return result, nil
}

func main() {
	flag.Parse()

	opts, err := options()
	if err != nil {
		log.Fatalf("fakebroker: %v", err)
	}

	start := fakebroker.Start
	if *flagWebSocket {
		start = fakebroker.StartWebSocket
	}
	broker, err := start(opts)
	if err != nil {
		log.Fatalf("fakebroker: listen %s failed: %v", opts.Addr, err)
	}

	log.Printf("fakebroker %s listening on %s (protocol=%s websocket=%v heartbeat=%ds frame_max=%d channel_max=%d)",
		fakebroker.Version, broker.Addr(), *flagVersion, *flagWebSocket, opts.Heartbeat, opts.FrameMax, opts.ChannelMax)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("fakebroker: received %v, shutting down", sig)

	done := make(chan error, 1)
	go func() { done <- broker.Close() }()
	select {
	case err := <-done:
		if err != nil {
			log.Printf("fakebroker: close: %v", err)
		}
	case <-time.After(5 * time.Second):
		log.Printf("fakebroker: clients did not disconnect in time, exiting")
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stderr)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fakebroker: scripted AMQP 0-9-1 responder for client testing\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
