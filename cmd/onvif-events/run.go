package main

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvif-events"
	"github.com/SridarDhandapani/onvif-events/events"
	"github.com/SridarDhandapani/onvif-events/internal/httpapi"
)

const shutdownTimeout = 5 * time.Second

var platforms = []string{events.PlatformBinarySensor, events.PlatformSensor}

func run(ctx context.Context, cfg *config, logger zerolog.Logger) error {
	client := onvif.NewClient(cfg.Username, cfg.Password)
	client.InsecureTLS = cfg.Insecure
	client.Logger = &logger

	camera := &onvif.Camera{Address: cfg.Address}
	if err := client.GetDeviceInformation(ctx, camera); err != nil {
		return errors.Annotate(err, "querying camera")
	}
	if err := client.GetCapabilities(ctx, camera); err != nil {
		logger.Warn().Err(err).Msg("Capabilities unavailable, guessing event service address")
	} else if !camera.EventsSupport || !camera.PullPointSupport {
		logger.Warn().
			Bool("events", camera.EventsSupport).
			Bool("pull_point", camera.PullPointSupport).
			Msg("Camera does not advertise pull-point events")
	}

	logger.Info().
		Str("camera", camera.GetDisplayName()).
		Str("serial", camera.SerialNumber).
		Str("firmware", camera.FirmwareVersion).
		Msg("Camera found")

	engineCfg := cfg.engineConfig()
	engineCfg.SourceID = camera.SourceID()
	engineCfg.Logger = &logger

	engine, err := events.NewEngine(client.PullPoint(camera), engineCfg)
	if err != nil {
		return errors.Trace(err)
	}

	if err := startEngine(ctx, engine, cfg.RestartCooldown, logger); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		engine.Stop(stopCtx)
	}()

	remove := engine.AddListener(newUIDReporter(engine, logger))
	defer remove()

	if cfg.Listen == "" {
		<-ctx.Done()
		return nil
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpapi.NewRouter(engine, &logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.Listen).Msg("HTTP API listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Annotate(err, "serving HTTP API")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Trace(server.Shutdown(shutdownCtx))
}

// startEngine retries Start until it succeeds or ctx is cancelled
func startEngine(ctx context.Context, engine *events.Engine, cooldown time.Duration, logger zerolog.Logger) error {
	for {
		err := engine.Start(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn().Err(err).Dur("retry_in", cooldown).Msg("Could not start event subscription")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cooldown):
		}
	}
}

// newUIDReporter returns a listener that logs every uid the first time the
// camera reports it
func newUIDReporter(engine events.Manager, logger zerolog.Logger) func() {
	var mu sync.Mutex
	seen := make(map[string]struct{})

	return func() {
		mu.Lock()
		defer mu.Unlock()
		for _, platform := range platforms {
			var added []string
			for uid := range engine.DistinctUIDsByPlatform(platform) {
				if _, ok := seen[uid]; !ok {
					seen[uid] = struct{}{}
					added = append(added, uid)
				}
			}
			sort.Strings(added)
			for _, uid := range added {
				event, _ := engine.Get(uid)
				logger.Info().
					Str("uid", uid).
					Str("platform", platform).
					Str("name", event.Name).
					Interface("value", event.Value).
					Msg("New event")
			}
		}
	}
}
