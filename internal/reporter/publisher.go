package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"creditmemo-reconciliation-service/internal/outcome"
	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// PublisherConfig names the Pub/Sub topic that receives run reports
type PublisherConfig struct {
	ProjectID       string        `mapstructure:"project_id"`
	Topic           string        `mapstructure:"topic"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether publishing is configured
func (c PublisherConfig) Enabled() bool {
	return c.ProjectID != "" && c.Topic != ""
}

// Validate validates the publisher configuration
func (c PublisherConfig) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("pubsub project id is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("pubsub topic is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("publish timeout cannot be negative, got %v", c.Timeout)
	}
	return nil
}

// Message is one encoded run report ready for transport
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// Transport sends a message and returns the id assigned by the broker
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
	Close() error
}

// Publisher hands finished run reports to the notification collaborator
type Publisher struct {
	transport Transport
	timeout   time.Duration
	logger    logger.Logger
}

// NewPublisher connects to the configured Pub/Sub topic
func NewPublisher(ctx context.Context, config PublisherConfig, log logger.Logger) (*Publisher, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "pubsub", config.Topic, err).
			WithSuggestion("Set pubsub.project_id and pubsub.topic, or leave both empty to disable publishing")
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeConnectionFailed, "pubsub", config.ProjectID, err).
			WithSuggestion("Check the Google Cloud project and credentials")
	}

	return NewPublisherWithTransport(&pubsubTransport{
		client: client,
		topic:  client.Topic(config.Topic),
	}, config.Timeout, log), nil
}

// NewPublisherWithTransport builds a publisher over an arbitrary transport
func NewPublisherWithTransport(transport Transport, timeout time.Duration, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Publisher{
		transport: transport,
		timeout:   timeout,
		logger:    log.WithComponent("publisher"),
	}
}

// Publish sends the JSON run report and returns the broker message id
func (p *Publisher) Publish(ctx context.Context, report *outcome.RunReport) (string, error) {
	if report == nil {
		return "", errors.ValidationError(errors.CodeMissingField, "report", nil, nil)
	}
	msg, err := EncodeReport(report)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	id, err := p.transport.Send(ctx, msg)
	if err != nil {
		return "", errors.InternalError(errors.CodeConnectionFailed, "publish run report", err).
			WithContext("run_id", report.RunID)
	}
	p.logger.WithFields(logger.Fields{
		"run_id":     report.RunID,
		"message_id": id,
	}).Info("Published run report")
	return id, nil
}

// PublishBestEffort publishes the report and only logs a failure
func (p *Publisher) PublishBestEffort(ctx context.Context, report *outcome.RunReport) {
	if _, err := p.Publish(ctx, report); err != nil {
		log := p.logger.WithError(err)
		if report != nil {
			log = log.WithField("run_id", report.RunID)
		}
		log.Warn("Failed to publish run report")
	}
}

// Close releases the transport
func (p *Publisher) Close() error {
	return p.transport.Close()
}

// EncodeReport renders the report as JSON with summary attributes
func EncodeReport(report *outcome.RunReport) (Message, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return Message{}, errors.InternalError(errors.CodeUnexpectedError, "encode run report", err)
	}
	t := report.Totals
	return Message{
		Data: data,
		Attributes: map[string]string{
			"run_id":           report.RunID,
			"documents":        strconv.Itoa(t.Documents),
			"documents_failed": strconv.Itoa(t.DocumentsFailed),
			"outcomes_created": strconv.Itoa(t.OutcomesCreated),
			"outcomes_skipped": strconv.Itoa(t.OutcomesSkipped),
			"outcomes_failed":  strconv.Itoa(t.OutcomesFailed),
			"amount_posted":    t.AmountPosted.StringFixed(2),
			"has_failures":     strconv.FormatBool(report.HasFailures()),
		},
	}, nil
}

type pubsubTransport struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func (t *pubsubTransport) Send(ctx context.Context, msg Message) (string, error) {
	result := t.topic.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	return result.Get(ctx)
}

func (t *pubsubTransport) Close() error {
	t.topic.Stop()
	return t.client.Close()
}
