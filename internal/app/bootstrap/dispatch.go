package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/rejuvenators/booking-dispatch/internal/config"
	"github.com/rejuvenators/booking-dispatch/internal/messaging"
	"github.com/rejuvenators/booking-dispatch/internal/notify"
	"github.com/rejuvenators/booking-dispatch/internal/observability/metrics"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

// BuildEmailSender picks the email provider named by EMAIL_PROVIDER. A
// provider without credentials falls back to the logging stub.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender, "sendgrid"
		}
		logger.Warn("sendgrid selected but SENDGRID_API_KEY is empty; using stub email")
	case "ses":
		if awsCfg != nil && strings.TrimSpace(cfg.SESFromEmail) != "" {
			client := sesv2.NewFromConfig(*awsCfg)
			return notify.NewSESSender(client, notify.SESConfig{FromEmail: cfg.SESFromEmail, FromName: cfg.SendGridFromName}, logger), "ses"
		}
		logger.Warn("ses selected but AWS config or SES_FROM_EMAIL missing; using stub email")
	}
	return notify.NewStubEmailSender(logger), "stub"
}

// BuildSMSSender returns the Twilio sender, or a logging stub without
// credentials.
func BuildSMSSender(cfg *appconfig.Config, logger *logging.Logger) (notify.SMSSender, string) {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
		return notify.NewStubSMSSender(logger), "stub"
	}
	return messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger), "twilio"
}

// BuildNotifyService wires the direct dispatcher over the configured senders.
func BuildNotifyService(cfg *appconfig.Config, awsCfg *aws.Config, m *metrics.DispatchMetrics, logger *logging.Logger) (*notify.Service, error) {
	if logger == nil {
		logger = logging.Default()
	}
	loc, err := LoadLocation(cfg)
	if err != nil {
		return nil, err
	}
	email, emailProvider := BuildEmailSender(cfg, awsCfg, logger)
	sms, smsProvider := BuildSMSSender(cfg, logger)
	logger.Info("notification senders configured", "email_provider", emailProvider, "sms_provider", smsProvider)

	return notify.NewService(email, sms, notify.Config{
		BaseURL:      cfg.PublicBaseURL,
		BrandName:    cfg.BrandName,
		SupportPhone: cfg.SupportPhone,
		Location:     loc,
	}, m, logger), nil
}

// BuildDispatcher returns the SQS-backed dispatcher when NOTIFY_QUEUE_URL is
// set, otherwise the direct service.
func BuildDispatcher(cfg *appconfig.Config, awsCfg *aws.Config, m *metrics.DispatchMetrics, logger *logging.Logger) (notify.Dispatcher, error) {
	if strings.TrimSpace(cfg.NotifyQueueURL) != "" {
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: NOTIFY_QUEUE_URL set without AWS config")
		}
		return notify.NewQueueDispatcher(sqs.NewFromConfig(*awsCfg), cfg.NotifyQueueURL), nil
	}
	return BuildNotifyService(cfg, awsCfg, m, logger)
}
