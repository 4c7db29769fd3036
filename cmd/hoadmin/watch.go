package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/hoadmin/internal/alert"
	"github.com/dukerupert/hoadmin/internal/auth"
	"github.com/dukerupert/hoadmin/internal/handler"
	"github.com/dukerupert/hoadmin/internal/push"
	"github.com/dukerupert/hoadmin/internal/server"
	"github.com/dukerupert/hoadmin/internal/store"
	"github.com/dukerupert/hoadmin/internal/watch"
	ws "github.com/dukerupert/hoadmin/internal/websocket"
)

var errSignedOut = errors.New("signed out")

// reservationsFallbackPoll catches changes missed while the realtime
// channel was reconnecting.
const reservationsFallbackPoll = time.Minute

// runWatch keeps watching pending residents and reservations while the
// admin stays signed in. UI clients follow along on the local websocket.
func runWatch(ctx context.Context, a *app) error {
	logger := a.logger
	hub := ws.NewHub(logger.With("component", "websocket"))

	a.manager.OnChange(func(s auth.Snapshot) {
		hub.Retain(ws.Event{Type: ws.EventSession, Data: s})
	})
	if _, err := a.session(ctx); err != nil {
		return err
	}

	alerters := alert.Multi{
		alert.Log{Logger: logger.With("component", "alert")},
		alert.NewSound(a.cfg.SoundFile, logger.With("component", "sound")),
		hub,
	}

	var pushH *handler.PushHandler
	if a.cfg.VAPIDPublicKey != "" && a.cfg.VAPIDPrivateKey != "" {
		pushStore := store.NewPushStore(a.db)
		pushSvc := push.NewService(a.cfg.VAPIDPublicKey, a.cfg.VAPIDPrivateKey)
		alerters = append(alerters, push.NewNotifier(pushSvc, pushStore, logger.With("component", "push")))
		pushH = handler.NewPushHandler(pushStore, pushSvc, a.signedInAdminID, logger.With("component", "push_handler"))
	}

	residentsCfg, reservationsCfg := a.watchConfigs(alerters, hub.SetHasNew)
	residents, err := watch.New(residentsCfg, logger)
	if err != nil {
		return err
	}
	reservations, err := watch.New(reservationsCfg, logger)
	if err != nil {
		return err
	}

	watchers := map[string]*watch.Watcher{"residents": residents, "reservations": reservations}
	hub.OnEvent(func(e ws.Event) {
		if e.Type != ws.EventAck {
			return
		}
		if w, ok := watchers[e.Source]; ok {
			w.Acknowledge()
		}
	})

	httpServer := &http.Server{
		Addr:              a.cfg.WSAddr,
		Handler:           server.NewConsole(hub, pushH, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return residents.Run(gctx) })
	g.Go(func() error { return reservations.Run(gctx) })
	g.Go(func() error {
		a.client.RunAutoRefresh(gctx, 30*time.Second)
		return nil
	})
	g.Go(func() error {
		_, err := a.manager.Wait(gctx, func(s auth.Snapshot) bool {
			return s.State == auth.StateLoggedOut
		})
		if err != nil {
			return nil
		}
		logger.Warn("session ended, stopping watchers")
		return errSignedOut
	})
	g.Go(func() error {
		logger.Info("console server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// watchConfigs returns the watcher settings for residents, which are
// polled, and reservations, which follow the realtime feed.
func (a *app) watchConfigs(alerter alert.Alerter, onHasNew func(string, bool)) (watch.Config, watch.Config) {
	residents := watch.Config{
		Source:   "residents",
		Title:    "New resident registration",
		Fetch:    a.residents.PendingIDs,
		Interval: a.cfg.PollInterval,
		Alerter:  alerter,
		OnHasNew: onHasNew,
	}
	reservations := watch.Config{
		Source:    "reservations",
		Title:     "New facility reservation",
		Fetch:     a.reservations.PendingIDs,
		Interval:  reservationsFallbackPoll,
		Subscribe: watch.Realtime(a.client, a.reservations.Table()),
		Alerter:   alerter,
		OnHasNew:  onHasNew,
	}
	return residents, reservations
}

// signedInAdminID returns the current admin's identifier, or "".
func (a *app) signedInAdminID() string {
	snap := a.manager.Snapshot()
	if snap.State != auth.StateLoggedIn || snap.Profile == nil {
		return ""
	}
	return snap.Profile.AdminID
}
