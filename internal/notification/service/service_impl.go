package service

import (
	"context"

	"github.com/makerhaus/storman/internal/config"
	notificationdomain "github.com/makerhaus/storman/internal/notification/domain"
	obsmetrics "github.com/makerhaus/storman/internal/observability/metrics"
	"github.com/makerhaus/storman/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	log      *zap.Logger
	settings *config.SettingsHolder
	email    email.Provider
	metrics  *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	Log      *zap.Logger
	Settings *config.SettingsHolder
	Email    email.Provider
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) notificationdomain.Service {
	return &Service{
		log:      p.Log.Named("notification.service"),
		settings: p.Settings,
		email:    p.Email,
		metrics:  p.Metrics,
	}
}

// SendEvent implements domain.Service.
func (s *Service) SendEvent(ctx context.Context, event notificationdomain.Event, subject, body string) error {
	settings := s.settings.Get().Notifications
	if !settings.EventEnabled(string(event)) {
		s.log.Debug("notification event disabled", zap.String("event", string(event)))
		return nil
	}

	recipients := settings.RecipientList()
	if len(recipients) == 0 {
		s.log.Warn("notification event enabled but no recipients configured",
			zap.String("event", string(event)))
		return nil
	}

	if err := s.email.Send(ctx, recipients, subject, body); err != nil {
		s.log.Error("notification send failed",
			zap.String("event", string(event)),
			zap.Error(err))
		return err
	}

	s.metrics.RecordNotificationSent(ctx, string(event))
	s.log.Info("notification sent",
		zap.String("event", string(event)),
		zap.Int("recipients", len(recipients)))
	return nil
}
