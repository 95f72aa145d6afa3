package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"stagectl/lib/api"
	"stagectl/lib/config"
	"stagectl/lib/deck"
	"stagectl/lib/device"
	"stagectl/lib/events"
	"stagectl/lib/kasa"
	"stagectl/lib/midictl"
	"stagectl/lib/router"
	"stagectl/lib/sequence"
	"stagectl/lib/show"
	"stagectl/lib/store"
)

const deckRefresh = 250 * time.Millisecond

// console is one running stagectl instance: the live show, device control,
// MIDI input and every event sink.
type console struct {
	repo       store.Repository
	live       *show.Live
	ctrl       *device.Controller
	router     *router.Router
	dispatcher *midictl.Dispatcher
	feedback   *midictl.Feedback
	hub        *api.Hub
	pub        events.Publisher
	deck       *deck.Device

	changed chan struct{}
	done    chan struct{}
}

func newConsole(ctx context.Context, cfg *config.Config) (*console, error) {
	c := &console{
		hub:     api.NewHub(),
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	repo, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	c.repo = repo

	gw, err := openGateway(cfg.Devices)
	if err != nil {
		return nil, err
	}

	s, err := loadShow(ctx, repo, cfg.Show, cfg.Devices)
	if err != nil {
		return nil, err
	}
	log.Info().Str("show", s.ID).Str("name", s.Name).
		Int("scenes", len(s.Scenes)).
		Int("sequences", len(s.Sequences)).
		Int("mappings", len(s.MIDIMappings)).
		Msg("show loaded")
	if stale := s.StaleMappings(); len(stale) > 0 {
		log.Warn().Int("count", len(stale)).Msg("mappings with missing targets will be ignored")
	}
	c.live = show.NewLive(s)

	c.pub = c.publishers(cfg)

	tracker := device.NewTracker()
	tracker.OnChange(func(st device.State) {
		c.pub.Publish(events.New(events.DeviceState, st))
		c.notify()
	})
	c.ctrl = device.NewController(gw, tracker, device.Options{
		Timeout:     cfg.Devices.Timeout,
		MaxParallel: cfg.Devices.MaxParallel,
	})

	c.router = router.New(ctx, c.live, c.ctrl, router.Options{
		Sequence: sequence.Options{
			Tick: cfg.Sequence.Tick,
			OnProgress: func(pr sequence.Progress) {
				c.pub.Publish(events.New(events.SequenceProgress, pr))
			},
			OnFinish: func(id string, o sequence.Outcome) {
				c.pub.Publish(events.New(events.SequenceFinished, map[string]any{
					"sequence_id": id,
					"outcome":     o,
				}))
				c.notify()
			},
		},
		OnScene: func(scene *show.Scene) {
			c.pub.Publish(events.New(events.SceneActive, scene))
			c.notify()
		},
	})

	if cfg.Devices.RefreshOnStart {
		devs, err := c.ctrl.Refresh(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("initial device refresh")
		} else {
			log.Info().Int("devices", len(devs)).Msg("devices refreshed")
		}
	}

	c.setupMIDI(cfg.MIDI)
	go c.syncFeedback()
	go c.rescan(ctx, cfg.MIDI.RescanPeriod)

	if cfg.Deck.Enabled {
		if err := c.setupDeck(ctx, cfg.Deck); err != nil {
			log.Warn().Err(err).Msg("stream deck disabled")
		}
	}
	return c, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Repository, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.DSN, cfg.Table)
	default:
		return store.NewFileStore(cfg.Dir)
	}
}

func openGateway(cfg config.DevicesConfig) (device.Gateway, error) {
	if cfg.Driver == "fake" {
		ids := make([]string, 0, len(cfg.Inventory))
		for _, p := range cfg.Inventory {
			ids = append(ids, p.ID)
		}
		if len(ids) == 0 {
			ids = []string{"fake-1", "fake-2", "fake-3", "fake-4"}
		}
		log.Info().Strs("devices", ids).Msg("using fake device gateway")
		return device.NewFakeGateway(ids...), nil
	}
	return kasa.NewGateway(cfg.Inventory)
}

// loadShow picks the boot show: an imported file, the configured id, the
// most recently updated stored show, or a new one generated from the
// device inventory.
func loadShow(ctx context.Context, repo store.Repository, cfg config.ShowConfig, devs config.DevicesConfig) (*show.Show, error) {
	if cfg.File != "" {
		s, err := show.LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		if s.ID == "" {
			s.ID = show.NewID()
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.File, err)
		}
		if err := repo.Save(ctx, s); err != nil {
			return nil, fmt.Errorf("store imported show: %w", err)
		}
		return s, nil
	}

	if cfg.ID != "" {
		s, err := repo.Load(ctx, cfg.ID)
		if err != nil {
			return nil, fmt.Errorf("load show %s: %w", cfg.ID, err)
		}
		return s, nil
	}

	list, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) > 0 {
		return repo.Load(ctx, list[0].ID)
	}

	var s *show.Show
	if devs.Driver == "fake" || len(devs.Inventory) > 0 {
		ids := make([]string, 0, len(devs.Inventory))
		for _, p := range devs.Inventory {
			ids = append(ids, p.ID)
		}
		if len(ids) == 0 {
			ids = []string{"fake-1", "fake-2", "fake-3", "fake-4"}
		}
		s = show.GenerateMockShow(ids, 3, 2, 2)
	} else {
		s = show.NewShow("Untitled Show")
	}
	if err := repo.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("store new show: %w", err)
	}
	log.Info().Str("show", s.ID).Msg("created show")
	return s, nil
}

func (c *console) publishers(cfg *config.Config) events.Publisher {
	pubs := events.Multi{c.hub}

	if cfg.NATS.URL != "" {
		np, err := events.DialNATS(events.NATSOptions{
			URL:               cfg.NATS.URL,
			Name:              cfg.NATS.Name,
			Prefix:            cfg.NATS.SubjectPrefix,
			MaxReconnects:     cfg.NATS.MaxReconnects,
			ReconnectInterval: cfg.NATS.ReconnectInterval,
		})
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("nats events disabled")
		} else {
			log.Info().Str("url", cfg.NATS.URL).Msg("publishing events to nats")
			pubs = append(pubs, np)
		}
	}

	if cfg.MQTT.Broker != "" {
		mp, err := events.DialMQTT(events.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Prefix:   cfg.MQTT.TopicPrefix,
			QoS:      cfg.MQTT.QoS,
		})
		if err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt events disabled")
		} else {
			log.Info().Str("broker", cfg.MQTT.Broker).Msg("publishing events to mqtt")
			pubs = append(pubs, mp)
		}
	}
	return pubs
}

func (c *console) setupMIDI(cfg config.MIDIConfig) {
	ports := midictl.DriverPorts{}
	log.Info().Strs("inputs", midictl.InputNames(ports)).Strs("outputs", midictl.OutputNames(ports)).Msg("midi ports")

	c.dispatcher = midictl.NewDispatcher(ports)
	c.dispatcher.SetNoteHandler(c.router.HandleNote)
	c.dispatcher.OnNote(func(ev midictl.NoteEvent) {
		c.pub.Publish(events.New(events.MIDINote, ev))
	})

	if cfg.Output != "" {
		out, err := midictl.FindOutput(ports, cfg.Output)
		if err != nil {
			log.Warn().Err(err).Msg("midi output")
		} else {
			c.dispatcher.SetOutput(out)
			c.dispatcher.SetLoopback(cfg.Loopback)
			if cfg.Feedback {
				c.feedback = midictl.NewFeedback(out)
			}
		}
	}

	if cfg.Input != "" {
		if err := c.dispatcher.SelectInput(cfg.Input); err != nil {
			log.Warn().Err(err).Str("input", cfg.Input).Msg("midi input not attached yet")
		}
	}
}

func (c *console) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// syncFeedback relights controller pads after each change, coalescing
// changes that arrive while a sync is running.
func (c *console) syncFeedback() {
	for {
		select {
		case <-c.done:
			return
		case <-c.changed:
		}
		if c.feedback == nil {
			continue
		}
		if err := c.feedback.Sync(c.router.LitKeys()); err != nil {
			log.Warn().Err(err).Msg("midi feedback")
		}
	}
}

func (c *console) rescan(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	was := c.dispatcher.Selected() != ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			attached, err := c.dispatcher.Rescan()
			if err != nil && !errors.Is(err, midictl.ErrNoInput) {
				log.Debug().Err(err).Msg("midi rescan")
			}
			// a reattached controller has lost its pad lights
			if attached && !was {
				c.notify()
			}
			was = attached
		}
	}
}

func (c *console) setupDeck(ctx context.Context, cfg config.DeckConfig) error {
	dev, err := deck.Open()
	if err != nil {
		return err
	}
	surface, err := deck.NewSurface(dev, c.router, cfg.Bindings)
	if err != nil {
		dev.Close()
		return err
	}
	if err := dev.SetBrightness(cfg.Brightness); err != nil {
		log.Warn().Err(err).Msg("deck brightness")
	}
	log.Info().Str("model", dev.Model().Name).Str("serial", dev.SerialNumber()).Int("bindings", len(cfg.Bindings)).Msg("stream deck attached")
	c.deck = dev

	keys := make(chan deck.KeyEvent, 16)
	go func() {
		if err := dev.ReadKeys(keys); err != nil {
			log.Warn().Err(err).Msg("deck read")
		}
		close(keys)
	}()
	go surface.Run(ctx, keys, deckRefresh)
	return nil
}

// Close stops playback and releases every device and connection. The
// context passed to newConsole should be cancelled first.
func (c *console) Close() {
	close(c.done)
	// no new notes may reach the router once Wait starts
	c.dispatcher.Disconnect()
	c.router.StopAll()
	c.router.Wait()
	if c.feedback != nil {
		if err := c.feedback.Clear(); err != nil {
			log.Warn().Err(err).Msg("clear midi feedback")
		}
	}
	if c.deck != nil {
		c.deck.Reset()
		c.deck.Close()
	}
	c.pub.Close()
	if err := c.repo.Close(); err != nil {
		log.Warn().Err(err).Msg("close store")
	}
}
