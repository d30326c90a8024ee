// Package alert triggers reminder voice calls. Calls are fire-and-forget;
// nothing about them is stored.
package alert

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/medrem/medrem/internal/platform/apperr"
	"github.com/medrem/medrem/internal/platform/telephony"
)

// CallConfig fixes who is called, from which number, and how the script is
// spoken.
type CallConfig struct {
	From   string
	To     string
	Script telephony.ScriptOptions
}

type Service struct {
	caller telephony.Caller
	cfg    CallConfig
	logger zerolog.Logger
}

func NewService(caller telephony.Caller, cfg CallConfig, logger zerolog.Logger) *Service {
	return &Service{
		caller: caller,
		cfg:    cfg,
		logger: logger.With().Str("component", "alert").Logger(),
	}
}

// TriggerCall places the reminder call and returns the provider's call id.
func (s *Service) TriggerCall(ctx context.Context) (string, error) {
	twiml, err := telephony.ReminderScript(s.cfg.Script)
	if err != nil {
		return "", err
	}
	sid, err := s.caller.PlaceCall(ctx, telephony.Call{From: s.cfg.From, To: s.cfg.To, TwiML: twiml})
	if err != nil {
		s.logger.Error().Err(err).Msg("reminder call failed")
		return "", apperr.External("Failed to trigger call", err)
	}
	s.logger.Info().Str("sid", sid).Msg("reminder call placed")
	return sid, nil
}
