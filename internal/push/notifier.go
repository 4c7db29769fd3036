package push

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukerupert/hoadmin/internal/alert"
	"github.com/dukerupert/hoadmin/internal/model"
)

// Subscriptions is the device registry the Notifier reads.
type Subscriptions interface {
	ListAll() ([]model.PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
}

// Notifier pushes pending-item notices to every registered device and
// prunes subscriptions the push service reports as gone.
type Notifier struct {
	service *Service
	subs    Subscriptions
	logger  *slog.Logger
}

func NewNotifier(service *Service, subs Subscriptions, logger *slog.Logger) *Notifier {
	return &Notifier{
		service: service,
		subs:    subs,
		logger:  logger.With("component", "push"),
	}
}

func (n *Notifier) Alert(ctx context.Context, notice alert.Notice) error {
	subs, err := n.subs.ListAll()
	if err != nil {
		return err
	}

	payload := Payload{
		Title: notice.Title,
		Body:  notice.Body,
		URL:   "/" + notice.Source,
		Tag:   "pending-" + notice.Source,
	}

	var errs []error
	for i := range subs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sub := &subs[i]
		err := n.service.Send(sub, payload)
		switch {
		case errors.Is(err, ErrExpired):
			n.logger.Info("remove expired push subscription", "device", sub.DeviceName)
			if err := n.subs.DeleteByEndpoint(sub.Endpoint); err != nil {
				errs = append(errs, err)
			}
		case err != nil:
			n.logger.Warn("send push", "device", sub.DeviceName, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
