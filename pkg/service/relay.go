package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turboalan/collab/pkg/utils"
)

// relayChannel is the Redis pub/sub channel shared by all instances.
const relayChannel = "collab.workspace.frames"

// relayEnvelope wraps a broadcast frame with its origin instance so each
// subscriber can drop its own publications.
type relayEnvelope struct {
	Origin      string `json:"origin"`
	WorkspaceID string `json:"workspace_id"`
	Frame       Frame  `json:"frame"`
}

// Relay mirrors workspace broadcasts across instances through Redis pub/sub.
// Each instance publishes its local broadcasts and replays everyone else's to
// its own connections. Single-instance deployments simply never construct one.
type Relay struct {
	rdb        *redis.Client
	ws         *ChatWebSocketManager
	instanceID string
	logger     *slog.Logger
	cancel     context.CancelFunc
}

// NewRelay connects to Redis and wires itself as the manager's publisher.
func NewRelay(addr string, ws *ChatWebSocketManager) (*Relay, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	r := &Relay{
		rdb:        rdb,
		ws:         ws,
		instanceID: uuid.New().String(),
		logger:     utils.GetLogger(),
	}
	ws.SetPublisher(r.publishFrame)
	return r, nil
}

// Start begins replaying remote frames until Close is called or the context
// ends.
func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	pubsub := r.rdb.Subscribe(ctx, relayChannel)
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.handlePayload([]byte(msg.Payload))
			}
		}
	}()
}

func (r *Relay) handlePayload(payload []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.Warn("undecodable relay payload", "error", err)
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	// Local-only delivery; replaying a remote frame must not republish it.
	r.ws.deliver(env.WorkspaceID, env.Frame, "")
}

// publishFrame mirrors one local broadcast to the channel, best-effort.
func (r *Relay) publishFrame(workspaceID string, f Frame) {
	payload, err := json.Marshal(relayEnvelope{
		Origin:      r.instanceID,
		WorkspaceID: workspaceID,
		Frame:       f,
	})
	if err != nil {
		return
	}
	if err := r.rdb.Publish(context.Background(), relayChannel, payload).Err(); err != nil {
		r.logger.Warn("relay publish failed", "workspace_id", workspaceID, "error", err)
	}
}

// Close stops the subscriber and releases the Redis connection.
func (r *Relay) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	return r.rdb.Close()
}
