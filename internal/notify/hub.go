package notify

import (
	"context"
	"sync"
	"time"

	"github.com/nexushub/server/internal/channel"
	"github.com/nexushub/server/internal/errkind"
	"github.com/nexushub/server/internal/hub"
	"github.com/nexushub/server/internal/id"
	"github.com/nexushub/server/internal/index"
	"github.com/nexushub/server/internal/message"
	"github.com/nexushub/server/internal/permission"
	"github.com/nexushub/server/internal/registry"
	"github.com/nexushub/server/internal/signer"
)

// channelKey identifies one channel's indexer within a specific hub, since
// MessageIndexer is scoped per (hub, channel) rather than per hub.
type channelKey struct {
	hubID     id.ID
	channelID id.ID
}

// Hub is the NotificationHub actor: a single goroutine that serializes
// every subscription change and every outbound notification, so the
// registry it owns never needs its own actor loop. One Hub serves every
// hub.Hub the process hosts; per-hub state (the domain Hub itself and its
// channels' MessageIndexers) is looked up by ID on each command. Every
// command that acts on behalf of a connection's claimed user is
// authorization-checked against the domain hub before it reaches the
// registry or indexer, mirroring the original server's
// membership-check/permission-check-then-act command handlers.
type Hub struct {
	dataDir         string
	commitThreshold int
	reg             *registry.Registry
	key             *signer.KeyPair
	commands        chan any
	stopped         chan struct{}
	stopOnce        sync.Once

	mu       sync.Mutex
	domains  map[id.ID]*hub.Hub
	indexers map[channelKey]*index.MessageIndexer
}

// New starts a NotificationHub backed by dataDir for persistence and key
// for signing every outbound chat message. commitThreshold configures any
// indexer this Hub opens itself (for channels created live); pass
// index.DefaultCommitThreshold for the same default main uses at startup.
func New(dataDir string, key *signer.KeyPair, commitThreshold int) *Hub {
	h := &Hub{
		dataDir:         dataDir,
		commitThreshold: commitThreshold,
		reg:             registry.New(),
		key:             key,
		commands:        make(chan any, 1024),
		stopped:         make(chan struct{}),
		domains:         make(map[id.ID]*hub.Hub),
		indexers:        make(map[channelKey]*index.MessageIndexer),
	}
	go h.run()
	return h
}

// RegisterHub makes an already-loaded domain hub available to the
// notification loop. Callers load hubs (via hub.Load or hub.New) before
// registering, since loading can fail in ways the actor loop has no good
// way to surface asynchronously.
func (h *Hub) RegisterHub(domain *hub.Hub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.domains[domain.ID] = domain
}

// RegisterChannelIndex makes an already-opened channel indexer available to
// the notification loop. Callers build it (via index.New) before
// registering, for the same reason as RegisterHub.
func (h *Hub) RegisterChannelIndex(hubID, channelID id.ID, idx *index.MessageIndexer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.indexers[channelKey{hubID, channelID}] = idx
}

func (h *Hub) domainHub(hubID id.ID) (*hub.Hub, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.domains[hubID]
	return d, ok
}

func (h *Hub) channelIndexer(hubID, channelID id.ID) (*index.MessageIndexer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.indexers[channelKey{hubID, channelID}]
	return idx, ok
}

// Submit enqueues a command for the actor to process. It blocks until the
// command is accepted or ctx is done.
func (h *Hub) Submit(ctx context.Context, cmd any) error {
	select {
	case h.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return errkind.New(errkind.KindUnavailable, "notification hub is shutting down")
	}
}

// Shutdown stops the actor loop. It does not shut down registered indexers;
// callers own those and should Shutdown each one themselves.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.commands)
	})
}

func (h *Hub) run() {
	defer close(h.stopped)
	for cmd := range h.commands {
		h.handle(cmd)
	}
}

func (h *Hub) handle(cmd any) {
	switch c := cmd.(type) {
	case Connect:
		h.reg.Connect(c.ConnID, c.Writer)

	case Disconnect:
		h.reg.Disconnect(c.ConnID)

	case SubscribeHub:
		// Membership check, then registry: a connection may only subscribe
		// to hub-level events for a hub it actually belongs to.
		if domain, ok := h.domainHub(c.HubID); ok {
			if _, isMember := domain.Member(c.UserID); isMember {
				h.reg.SubscribeHub(c.ConnID, c.HubID)
			}
		}

	case UnsubscribeHub:
		h.reg.UnsubscribeHub(c.ConnID, c.HubID)

	case SubscribeChannel:
		// Read-permission check, then registry.
		if domain, ok := h.domainHub(c.HubID); ok {
			if domain.HasChannelPermission(c.UserID, c.ChannelID, permission.ViewChannel) {
				h.reg.SubscribeChannel(c.ConnID, c.ChannelID)
			}
		}

	case UnsubscribeChannel:
		h.reg.UnsubscribeChannel(c.ConnID, c.ChannelID)

	case StartTyping:
		// Write-permission check, then broadcast.
		if domain, ok := h.domainHub(c.HubID); ok {
			if domain.HasChannelPermission(c.UserID, c.ChannelID, permission.SendMessage) {
				h.broadcastTyping(c.ChannelID, c.UserID, opTypingStart)
			}
		}

	case StopTyping:
		if domain, ok := h.domainHub(c.HubID); ok {
			if domain.HasChannelPermission(c.UserID, c.ChannelID, permission.SendMessage) {
				h.broadcastTyping(c.ChannelID, c.UserID, opTypingStop)
			}
		}

	case NewMessage:
		h.handleNewMessage(c)

	case HubUpdated:
		h.handleHubUpdated(c)

	case JoinHub:
		h.handleJoinHub(c)

	case LeaveHub:
		if domain, ok := h.domainHub(c.HubID); ok {
			if err := domain.UserLeave(c.UserID); err == nil {
				h.handleHubUpdated(HubUpdated{HubID: c.HubID, Type: MemberLeft, Payload: struct {
					UserID id.ID `json:"user_id"`
				}{c.UserID}})
			}
		}

	case CreateChannel:
		if domain, ok := h.domainHub(c.HubID); ok {
			if ch, err := domain.NewChannel(c.ActorID, c.Name); err == nil {
				h.openChannelIndex(c.HubID, ch.ID)
				h.handleHubUpdated(HubUpdated{HubID: c.HubID, Type: ChannelCreated, Payload: struct {
					ChannelID id.ID  `json:"channel_id"`
					Name      string `json:"name"`
				}{ch.ID, ch.Name}})
			}
		}

	case RenameChannel:
		if domain, ok := h.domainHub(c.HubID); ok {
			if err := domain.RenameChannel(c.ActorID, c.ChannelID, c.Name); err == nil {
				h.handleHubUpdated(HubUpdated{HubID: c.HubID, Type: ChannelRenamed, Payload: struct {
					ChannelID id.ID  `json:"channel_id"`
					Name      string `json:"name"`
				}{c.ChannelID, c.Name}})
			}
		}

	case DeleteChannel:
		if domain, ok := h.domainHub(c.HubID); ok {
			if err := domain.DeleteChannel(c.ActorID, c.ChannelID); err == nil {
				h.handleHubUpdated(HubUpdated{HubID: c.HubID, Type: ChannelDeleted, Payload: struct {
					ChannelID id.ID `json:"channel_id"`
				}{c.ChannelID}})
			}
		}

	case CreateGroup:
		if domain, ok := h.domainHub(c.HubID); ok {
			if g, err := domain.NewGroup(c.ActorID, c.Name); err == nil {
				h.handleHubUpdated(HubUpdated{HubID: c.HubID, Type: GroupCreated, Payload: struct {
					GroupID id.ID  `json:"group_id"`
					Name    string `json:"name"`
				}{g.ID, g.Name}})
			}
		}

	case MuteMember:
		if domain, ok := h.domainHub(c.HubID); ok {
			if err := domain.Mute(c.ActorID, c.TargetID); err == nil {
				h.handleHubUpdated(HubUpdated{HubID: c.HubID, Type: MemberMuted, Payload: struct {
					UserID id.ID `json:"user_id"`
				}{c.TargetID}})
			}
		}

	case UnmuteMember:
		if domain, ok := h.domainHub(c.HubID); ok {
			if err := domain.Unmute(c.ActorID, c.TargetID); err == nil {
				h.handleHubUpdated(HubUpdated{HubID: c.HubID, Type: MemberUnmuted, Payload: struct {
					UserID id.ID `json:"user_id"`
				}{c.TargetID}})
			}
		}

	case BanMember:
		if domain, ok := h.domainHub(c.HubID); ok {
			if err := domain.Ban(c.ActorID, c.TargetID); err == nil {
				h.handleHubUpdated(HubUpdated{HubID: c.HubID, Type: MemberBanned, Payload: struct {
					UserID id.ID `json:"user_id"`
				}{c.TargetID}})
			}
		}
	}
}

// handleJoinHub admits a member and, only on success, subscribes the
// connection to the hub's events — joining and subscribing must not race
// each other across two separately-submitted commands.
func (h *Hub) handleJoinHub(c JoinHub) {
	domain, ok := h.domainHub(c.HubID)
	if !ok {
		return
	}
	if _, err := domain.UserJoin(c.UserID, c.Nickname); err != nil {
		return
	}
	h.reg.SubscribeHub(c.ConnID, c.HubID)
	h.handleHubUpdated(HubUpdated{HubID: c.HubID, Type: MemberJoined, Payload: struct {
		UserID   id.ID  `json:"user_id"`
		Nickname string `json:"nickname"`
	}{c.UserID, c.Nickname}})
}

// openChannelIndex opens and registers the indexer for a channel created
// after startup, mirroring the same per-(hub,channel) wiring main does for
// channels that existed at load time. Indexing failures are logged nowhere
// today (Hub carries no logger); a channel whose indexer failed to open
// simply has no search surface until the process restarts.
func (h *Hub) openChannelIndex(hubID, channelID id.ID) {
	idx, err := index.New(context.Background(), h.dataDir, hubID, channelID, h.commitThreshold)
	if err != nil {
		return
	}
	h.RegisterChannelIndex(hubID, channelID, idx)
}

func (h *Hub) broadcastTyping(channelID, userID id.ID, op string) {
	frame, err := newFrame(op, struct {
		ChannelID id.ID `json:"channel_id"`
		UserID    id.ID `json:"user_id"`
	}{channelID, userID})
	if err != nil {
		return
	}
	payload, err := frame.encode()
	if err != nil {
		return
	}
	h.reg.PublishToChannel(channelID, payload)
}

func (h *Hub) handleNewMessage(c NewMessage) {
	domain, ok := h.domainHub(c.HubID)
	if !ok {
		return
	}
	// Write-permission check (membership, mute, send_message), then persist
	// and fan out. This is CanSendMessage's own gate, not a duplicate of the
	// registry-facing checks above — a message must never reach the channel
	// log or index before it clears this.
	if err := domain.CanSendMessage(c.Msg.Sender, c.ChannelID); err != nil {
		return
	}

	content, err := message.Encode(c.Msg)
	if err != nil {
		return
	}
	armored, err := h.key.Sign(content, c.Msg.ID.String())
	if err != nil {
		return
	}

	log, err := channel.Open(h.dataDir, c.HubID, c.ChannelID)
	if err == nil {
		_ = log.Append(channel.Entry{
			ID:             c.Msg.ID,
			CreatedAtMs:    c.Msg.CreatedAtMs,
			ArmoredMessage: armored,
		})
	}

	if idx, ok := h.channelIndexer(c.HubID, c.ChannelID); ok && idx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = idx.IndexMessage(ctx, c.Msg)
		cancel()
	}

	frame, err := newFrame(opChatMessage, struct {
		ChannelID id.ID  `json:"channel_id"`
		Message   string `json:"message"`
	}{c.ChannelID, armored})
	if err != nil {
		return
	}
	payload, err := frame.encode()
	if err != nil {
		return
	}
	h.reg.PublishToChannel(c.ChannelID, payload)
}

func (h *Hub) handleHubUpdated(c HubUpdated) {
	frame, err := newFrame(opHubUpdate, struct {
		HubID   id.ID  `json:"hub_id"`
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{c.HubID, c.Type.String(), c.Payload})
	if err != nil {
		return
	}
	payload, err := frame.encode()
	if err != nil {
		return
	}
	h.reg.PublishToHub(c.HubID, payload)
}

// Registry exposes the underlying subscription registry for read-only
// inspection (subscriber counts in tests and diagnostics).
func (h *Hub) Registry() *registry.Registry {
	return h.reg
}
