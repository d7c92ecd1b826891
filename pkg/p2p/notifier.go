package p2p

import (
	"context"
	"fmt"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	multiaddr "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"content_validation/pkg/config"
	"content_validation/pkg/data"
)

// PubSubNotifier broadcasts validation announcements over a gossipsub
// topic. Delivery is best effort; the orchestrator never blocks on it.
type PubSubNotifier struct {
	host   host.Host
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubNotifier starts a libp2p host, joins the validation topic and
// dials the configured bootstrap peers.
func NewPubSubNotifier(ctx context.Context, cfg *config.P2PConfig, logger *zap.Logger) (*PubSubNotifier, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Port)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("creating pubsub: %w", err)
	}

	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("joining topic %q: %w", cfg.Topic, err)
	}

	n := &PubSubNotifier{
		host:   h,
		topic:  topic,
		logger: logger,
	}

	n.connectBootstrapPeers(ctx, cfg.BootstrapPeers)

	logger.Info("Notification transport started",
		zap.String("peerID", h.ID().String()),
		zap.String("topic", cfg.Topic))

	return n, nil
}

// NotifyValidators publishes a validation request for the session.
func (n *PubSubNotifier) NotifyValidators(ctx context.Context, validators []*data.Validator, session *data.ValidationSession) error {
	ids := make([]string, len(validators))
	for i, v := range validators {
		ids[i] = v.ID
	}

	msg := NewMessage(ValidationRequestMessage, &ValidationRequest{
		SessionID:    session.ID,
		ContentID:    session.ContentID,
		ContentType:  session.ContentType,
		ValidatorIDs: ids,
		Deadline:     session.Deadline,
	})

	msgBytes, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling validation request: %w", err)
	}

	if err := n.topic.Publish(ctx, msgBytes); err != nil {
		return fmt.Errorf("publishing validation request: %w", err)
	}

	return nil
}

// Close shuts down the transport
func (n *PubSubNotifier) Close() error {
	if err := n.topic.Close(); err != nil {
		n.logger.Warn("Closing topic failed", zap.Error(err))
	}
	return n.host.Close()
}

func (n *PubSubNotifier) connectBootstrapPeers(ctx context.Context, addrs []string) {
	for _, addr := range addrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			n.logger.Warn("Invalid bootstrap address",
				zap.String("addr", addr),
				zap.Error(err))
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			n.logger.Warn("Invalid bootstrap peer info",
				zap.String("addr", addr),
				zap.Error(err))
			continue
		}
		if err := n.host.Connect(ctx, *info); err != nil {
			n.logger.Warn("Bootstrap peer connection failed",
				zap.String("peerID", info.ID.String()),
				zap.Error(err))
		}
	}
}

// NopNotifier discards notifications. Used by tests and by runs without
// the p2p transport enabled.
type NopNotifier struct{}

// NotifyValidators does nothing
func (NopNotifier) NotifyValidators(ctx context.Context, validators []*data.Validator, session *data.ValidationSession) error {
	return nil
}
