package presence

import (
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/pubsub"
)

// Bus topics for presence changes. Connected clients learn about presence from
// frames on their own connection; these topics exist for in-process observers.
var (
	// TopicUserOnline is published when a user registers a connection.
	TopicUserOnline = pubsub.NewEvent[domain.PresenceEvent](
		"presence.user.online",
		"Published when a user comes online",
	)

	// TopicUserOffline is published when a user's connection is unregistered or evicted.
	TopicUserOffline = pubsub.NewEvent[domain.PresenceEvent](
		"presence.user.offline",
		"Published when a user goes offline",
	)
)
