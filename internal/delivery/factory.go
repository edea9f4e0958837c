package delivery

import (
	"go.uber.org/zap"

	"github.com/merkatolabs/merkato/backend/internal/config"
)

// BuildProviders assembles the provider chain from the configured credential
// sets. The chain order is fixed: meta, then twilio, then the session-backed
// provider. Providers without credentials are skipped.
func BuildProviders(creds config.ProviderCredentials, sessions SessionSender, logger *zap.Logger) []Provider {
	if logger == nil {
		logger = zap.NewNop()
	}

	providers := make([]Provider, 0, 3)
	if creds.MetaConfigured() {
		providers = append(providers, NewMetaProvider(MetaConfig{
			AccessToken:   creds.MetaAccessToken,
			PhoneNumberID: creds.MetaPhoneNumberID,
		}))
	}
	if creds.TwilioConfigured() {
		providers = append(providers, NewTwilioProvider(TwilioConfig{
			AccountSID: creds.TwilioAccountSID,
			AuthToken:  creds.TwilioAuthToken,
			FromNumber: creds.TwilioFromNumber,
		}))
	}
	if creds.SessionProviderEnabled && sessions != nil {
		providers = append(providers, NewSessionProvider(sessions))
	}

	if len(providers) == 0 {
		logger.Warn("no delivery providers configured, outbound notifications disabled")
	}
	return providers
}
