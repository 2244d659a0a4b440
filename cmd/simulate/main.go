// Command simulate drives the call simulator (spec.md §4.9): it speaks the
// production wire protocol against a running dialcore server, either
// replaying a WAV file (-file) or capturing the local microphone
// (-mic), so C1-C8 can be exercised end to end without a telephony
// provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lokutor-ai/dialcore/internal/simulator"
)

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/streams", "dialcore /streams WebSocket URL")
		mic     = flag.Bool("mic", false, "live-mic mode instead of file mode")
		file    = flag.String("file", "", "WAV file to replay in file mode")
		pace    = flag.Float64("pace", 1.0, "playback pace multiplier (1.0 = real time, 0 = as fast as possible)")
		out     = flag.String("out", "", "path to write the agent's received audio artifact (optional)")
		chunkMS = flag.Int("chunk-ms", 20, "mic-mode tick-drain interval in milliseconds")
	)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	var received []byte
	var err error

	if *mic {
		fmt.Println("live-mic mode: speak into the microphone, Ctrl+C to stop")
		received, err = simulator.RunMic(ctx, simulator.MicModeConfig{
			ServerURL: *url,
			ChunkMS:   *chunkMS,
		})
	} else {
		if *file == "" {
			log.Fatal("file mode requires -file <path.wav>")
		}
		wavBytes, readErr := os.ReadFile(*file)
		if readErr != nil {
			log.Fatalf("read %s: %v", *file, readErr)
		}
		fmt.Printf("file mode: replaying %s at %.2fx pace\n", *file, *pace)
		received, err = simulator.RunFile(ctx, simulator.FileModeConfig{
			ServerURL: *url,
			Pace:      *pace,
			Grace:     5 * time.Second,
		}, wavBytes)
	}

	if err != nil && err != context.Canceled {
		log.Fatalf("simulator run failed: %v", err)
	}

	if *out != "" && len(received) > 0 {
		if writeErr := os.WriteFile(*out, received, 0o644); writeErr != nil {
			log.Fatalf("write %s: %v", *out, writeErr)
		}
		fmt.Printf("wrote %d bytes of received audio to %s\n", len(received), *out)
	}
}
