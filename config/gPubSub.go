package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// PairingEventMessage is the wire payload for pairing lifecycle events
// published after commit by the outbox dispatcher.
type PairingEventMessage struct {
	ID             string    `json:"id"`
	VenueId        string    `json:"venue_id"`
	EventType      string    `json:"event_type"`
	InvoiceId      string    `json:"invoice_id"`
	DeliveryNoteId string    `json:"delivery_note_id,omitempty"`
	MatchScore     float64   `json:"match_score"`
	Warnings       []string  `json:"warnings,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
	CorrelationId  string    `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

func getPairingEventsTopicID() string {
	if v := os.Getenv("PAIRING_EVENTS_TOPIC"); v != "" {
		return v
	}
	return "pairing-events"
}

// getPubSubClient lazily initializes a Pub/Sub client. It uses Application
// Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("pubsub project id is not configured")
	}

	var opts []option.ClientOption
	if credsJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create pubsub client: %w", err)
	}
	pubsubClient = client
	return pubsubClient, nil
}

// PublishPairingEventWithResult publishes one pairing event and returns the
// server-assigned message id. Callers own retry policy (outbox dispatcher).
func PublishPairingEventWithResult(ctx context.Context, venueId string, msg PairingEventMessage) (string, error) {
	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	topic := client.Topic(getPairingEventsTopicID())
	result := topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"venue_id":   venueId,
			"event_type": msg.EventType,
		},
	})
	return result.Get(ctx)
}
