// Command windowsim drives a simulated browser window against a relay: it
// moves along a Lissajous path, mirrors the other windows and logs where their
// smoothed proxies sit.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/onkernel/window-relay/lib/logger"
	"github.com/onkernel/window-relay/lib/protocol"
	"github.com/onkernel/window-relay/lib/smoother"
	"github.com/onkernel/window-relay/lib/windowsync"
)

// lissajous moves a fixed-size window around a centre point.
type lissajous struct {
	start         time.Time
	cx, cy        float64
	ax, ay        float64
	fx, fy        float64
	width, height float64
}

func (l *lissajous) Geometry() protocol.Rect {
	t := time.Since(l.start).Seconds()
	return protocol.Rect{
		X:      math.Round(l.cx + l.ax*math.Sin(l.fx*t)),
		Y:      math.Round(l.cy + l.ay*math.Sin(l.fy*t+math.Pi/2)),
		Width:  l.width,
		Height: l.height,
	}
}

func main() {
	var (
		url      = flag.String("url", "ws://localhost:3000/ws", "relay websocket url")
		name     = flag.String("name", "", "label sent as window metadata (random when empty)")
		cx       = flag.Float64("x", 400, "path centre x")
		cy       = flag.Float64("y", 300, "path centre y")
		amp      = flag.Float64("amplitude", 200, "path amplitude in pixels")
		fps      = flag.Int("fps", 60, "render frames per second")
		spring   = flag.Bool("spring", false, "ease proxies with a critically damped spring")
		logLevel = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	if err != nil {
		slogger.Error("invalid log level", "err", err)
		os.Exit(1)
	}
	if *fps <= 0 {
		slogger.Error("fps must be greater than 0")
		os.Exit(1)
	}

	label := *name
	if label == "" {
		label = "sim-" + uuid.NewString()[:8]
	}
	metadata, _ := json.Marshal(map[string]string{"label": label, "instance": uuid.NewString()})

	source := &lissajous{
		start:  time.Now(),
		cx:     *cx,
		cy:     *cy,
		ax:     *amp,
		ay:     *amp * 0.6,
		fx:     0.7,
		fy:     1.1,
		width:  640,
		height: 480,
	}

	agent, err := windowsync.NewAgent(windowsync.Config{
		URL:      *url,
		Source:   source,
		Metadata: metadata,
		Logger:   slogger,
	})
	if err != nil {
		slogger.Error("failed to create agent", "err", err)
		os.Exit(1)
	}

	var easer smoother.Easer
	if *spring {
		easer, err = smoother.NewSpringSmoother(*fps, 6, 1)
	} else {
		easer, err = smoother.New(smoother.ProxyFalloff)
	}
	if err != nil {
		slogger.Error("failed to create smoother", "err", err)
		os.Exit(1)
	}
	viewEaser, _ := smoother.New(smoother.ViewportFalloff)

	var mu sync.Mutex
	tracker := smoother.NewTracker(easer)
	viewport := smoother.NewViewport(viewEaser)

	agent.OnWindowsChanged(func(ws []protocol.WindowRecord) {
		slogger.Info("roster changed", "windows", len(ws))
	})
	agent.OnConnectionChanged(func(up bool) {
		slogger.Info("relay connection changed", "connected", up)
	})
	agent.OnSceneState(func(doc json.RawMessage) {
		slogger.Debug("scene state", "doc", string(doc))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slogger.Info("window simulator starting", "label", label, "url", *url)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return agent.Run(gctx)
	})
	g.Go(func() error {
		frame := time.NewTicker(time.Second / time.Duration(*fps))
		defer frame.Stop()
		report := time.NewTicker(time.Second)
		defer report.Stop()
		first := true
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-frame.C:
				self := source.Geometry()
				mu.Lock()
				viewport.SetWindowPosition(self.X, self.Y, !first)
				viewport.Step()
				tracker.StepWindows(agent.Windows())
				mu.Unlock()
				first = false
			case <-report.C:
				mu.Lock()
				offset := viewport.Offset()
				proxies := make(map[int64]smoother.Vec2, tracker.Len())
				for _, id := range tracker.IDs() {
					p, _ := tracker.Position(id)
					proxies[id] = p
				}
				mu.Unlock()
				slogger.Info("frame",
					"self_id", agent.Self().ID,
					"state", agent.State().String(),
					"offset_x", math.Round(offset.X),
					"offset_y", math.Round(offset.Y),
					"proxies", proxies,
				)
			}
		}
	})

	if err := g.Wait(); err != nil {
		slogger.Error("window simulator stopped", "err", err)
		os.Exit(1)
	}
	slogger.Info("window simulator stopped")
}
