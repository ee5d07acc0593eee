package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/paws/internal/events"
	"github.com/srg/paws/internal/gatt"
	"github.com/srg/paws/internal/groutine"
	"github.com/srg/paws/internal/mailbox"
	"github.com/srg/paws/internal/output"
	"github.com/srg/paws/internal/protocol"
	"github.com/srg/paws/internal/scene"
	"github.com/srg/paws/internal/scheduler"
	"github.com/srg/paws/pkg/config"
)

// daemon wires the receive path (gatt → reassembler → mailbox) to the draw
// path (scheduler → scene → output manager).
type daemon struct {
	cfg    *config.Config
	logger *logrus.Logger

	out         *output.Manager
	bus         *events.Bus
	mailbox     *mailbox.Mailbox
	reassembler *protocol.Reassembler
	scenes      *scene.Manager
	scheduler   *scheduler.Scheduler
	server      *gatt.Server
}

func newDaemon(cfg *config.Config, logger *logrus.Logger) (d *daemon, err error) {
	if len(cfg.Interfaces) == 0 {
		return nil, ErrNoInterfaces
	}

	d = &daemon{
		cfg:     cfg,
		logger:  logger,
		bus:     events.NewBus(logger),
		mailbox: mailbox.New(),
		out:     output.NewManager(logger, output.ManagerOptions{Concurrent: cfg.Concurrent}),
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, d.Close())
			d = nil
		}
	}()

	ifaces, err := output.Build(cfg.Interfaces, logger)
	if err != nil {
		return d, err
	}
	for i, iface := range ifaces {
		if err := d.out.Register(iface); err != nil {
			for _, rest := range ifaces[i:] {
				_ = rest.Close()
			}
			return d, err
		}
	}
	d.out.Seal()

	d.reassembler = protocol.NewReassembler(protocol.ReassemblerOptions{
		MaxFrameLength: cfg.BLE.MaxFrameLength,
		Logger:         logger,
		Emit: func(frame []byte) {
			d.mailbox.Publish(frame)
			d.bus.Publish(events.FrameCompleted{Length: len(frame)})
		},
	})

	d.scenes, err = scene.NewManager(d.out, d.bus, logger, scene.ManagerOptions{ProcRoot: cfg.ProcRoot})
	if err != nil {
		return d, err
	}
	stream, err := scene.NewStreamScene(d.mailbox, d.reassembler)
	if err != nil {
		return d, err
	}
	solid, err := scene.NewSolidScene()
	if err != nil {
		return d, err
	}
	for _, s := range []scene.Scene{stream, solid} {
		if err := d.scenes.Add(s); err != nil {
			return d, err
		}
	}
	if err := d.scenes.Activate(cfg.Scenes.Initial); err != nil {
		return d, fmt.Errorf("scenes.initial: %w", err)
	}

	d.scheduler, err = scheduler.New(d.scenes, scheduler.Options{TargetFPS: cfg.TargetFPS, Logger: logger})
	if err != nil {
		return d, err
	}

	d.server, err = gatt.New(cfg.BLE, gatt.Deps{
		Reassembler: d.reassembler,
		Commands:    d.scenes,
		Bus:         d.bus,
		Logger:      logger,
	})
	if err != nil {
		return d, err
	}

	logger.WithFields(logrus.Fields{
		"interfaces": d.out.Len(),
		"frame_size": d.out.TotalByteSize(),
		"fps":        cfg.TargetFPS,
		"scene":      d.scenes.Active(),
	}).Info("Display ready")
	return d, nil
}

// Run draws and serves until ctx is done.
func (d *daemon) Run(ctx context.Context) error {
	d.logEvents(ctx)

	if err := d.scheduler.Start(); err != nil {
		return err
	}
	serveErr := d.server.Serve(ctx)
	return errors.Join(serveErr, d.scheduler.Stop())
}

// logEvents reports scene switches and completed frames.
func (d *daemon) logEvents(ctx context.Context) {
	sub := d.bus.Subscribe(events.DefaultCapacity, events.KindSceneChanged, events.KindFrameCompleted)
	groutine.Go(ctx, "event-log", func(ctx context.Context) {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				switch e := ev.(type) {
				case events.SceneChanged:
					d.logger.WithFields(logrus.Fields{"from": e.From, "to": e.To}).Info("Scene changed")
				case events.FrameCompleted:
					d.logger.WithField("bytes", e.Length).Trace("Frame received")
				}
			}
		}
	})
}

// Close releases everything newDaemon created, in reverse order.
func (d *daemon) Close() error {
	var errs []error
	if d.scheduler != nil {
		errs = append(errs, d.scheduler.Stop())
	}
	if d.server != nil {
		errs = append(errs, d.server.Close())
	}
	if d.scenes != nil {
		errs = append(errs, d.scenes.Close())
	}
	d.bus.Close()
	errs = append(errs, d.out.Close())
	return errors.Join(errs...)
}
