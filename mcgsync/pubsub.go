package mcgsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

const pushHandlerName = "mcg-sync-run"

func PublishSyncRun(ctx context.Context, runId uint, businessId string, connectionId uint) error {
	topicName := strings.TrimSpace(os.Getenv("MCG_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "mcg-sync"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if envBoolDefault("MCG_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	payload := SyncPubSubPayload{
		RunId:        runId,
		BusinessId:   businessId,
		ConnectionId: connectionId,
	}
	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler consumes sync-run push deliveries. Garbage is acked with
// 204 so a poison message cannot loop forever; a run already being processed
// by another worker answers 503 so Pub/Sub redelivers once it settles.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_MCG_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.RunId == 0 || payload.BusinessId == "" {
			c.Status(204)
			return
		}

		db := config.GetDB()
		// every retry creates a fresh run, so the run id is the dedup key
		// regardless of how often Pub/Sub redelivers the message
		messageId := fmt.Sprintf("run-%d", payload.RunId)
		skip, err := beginIdempotency(db, payload.BusinessId, pushHandlerName, messageId)
		if err != nil {
			if errors.Is(err, errIdempotencyInProgress) {
				c.Status(503)
				return
			}
			c.Status(204)
			return
		}
		if skip {
			c.Status(204)
			return
		}

		if err := processSyncRun(c.Request.Context(), payload); err != nil {
			_ = markIdempotencyFailed(db, payload.BusinessId, pushHandlerName, messageId, err)
		} else {
			_ = markIdempotencySucceeded(db, payload.BusinessId, pushHandlerName, messageId)
		}
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
