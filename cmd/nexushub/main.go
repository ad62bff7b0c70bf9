// Command nexushub runs the federated chat server core: it loads every hub
// found under DATA_DIR, wires one MessageIndexer to each of their channels, starts the
// single NotificationHub actor that fans out signed messages and hub events,
// and serves WebSocket connections against it. It mirrors the teacher's
// cmd/uncord dependency-wiring shape (load config, connect dependencies,
// register routes, wait for a shutdown signal) with Postgres/Valkey/Fiber
// replaced by the on-disk hub store, the in-process notification hub, and a
// plain net/http + fasthttp/websocket upgrade.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nexushub/server/internal/config"
	"github.com/nexushub/server/internal/hub"
	"github.com/nexushub/server/internal/httputil"
	"github.com/nexushub/server/internal/id"
	"github.com/nexushub/server/internal/index"
	"github.com/nexushub/server/internal/message"
	"github.com/nexushub/server/internal/notify"
	"github.com/nexushub/server/internal/signer"
	"github.com/nexushub/server/internal/transport"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

// server holds the shared dependencies used by the WebSocket handler.
type server struct {
	cfg *config.Config
	nh  *notify.Hub
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting nexushub")

	key, err := signer.LoadOrCreateKeyPair(cfg.ServerIdentity, cfg.SecretKeyPath, cfg.PublicKeyPath)
	if err != nil {
		return fmt.Errorf("load or create server keypair: %w", err)
	}
	log.Info().Str("fingerprint", signer.FingerprintHex(key.Entity)).Msg("Server identity ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nh := notify.New(cfg.DataDir, key, cfg.IndexCommitThreshold)

	hubIDs, err := hub.ListHubIDs(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("list hubs: %w", err)
	}

	// indexers is keyed by (hub, channel): MessageIndexer is scoped per
	// channel, not per hub, so crash recovery never applies one channel's
	// journal cursor to another channel's log.
	type indexerKey struct {
		hubID     id.ID
		channelID id.ID
	}
	indexers := make(map[indexerKey]*index.MessageIndexer)
	domains := make(map[id.ID]*hub.Hub, len(hubIDs))
	for _, hubID := range hubIDs {
		domain, err := hub.Load(cfg.DataDir, hubID)
		if err != nil {
			log.Error().Err(err).Str("hub", hubID.String()).Msg("Failed to load hub, skipping")
			continue
		}
		nh.RegisterHub(domain)
		domains[hubID] = domain

		for _, channelID := range domain.AllChannelIDs() {
			idx, err := index.New(ctx, cfg.DataDir, hubID, channelID, cfg.IndexCommitThreshold)
			if err != nil {
				log.Error().Err(err).Str("hub", hubID.String()).Str("channel", channelID.String()).
					Msg("Failed to open channel index, skipping")
				continue
			}
			nh.RegisterChannelIndex(hubID, channelID, idx)
			indexers[indexerKey{hubID, channelID}] = idx
		}
		log.Info().Str("hub", hubID.String()).Str("name", domain.Name).Msg("Hub loaded")
	}
	log.Info().Int("count", len(domains)).Msg("Hubs ready")

	srv := &server{cfg: cfg, nh: nh}

	mux := http.NewServeMux()
	mux.HandleFunc("/gateway", srv.handleGateway)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		nh.Shutdown()

		for key, idx := range indexers {
			if err := idx.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Str("hub", key.hubID.String()).Str("channel", key.channelID.String()).
					Msg("Index shutdown error")
			}
		}
		for hubID, domain := range domains {
			if err := domain.Save(cfg.DataDir); err != nil {
				log.Error().Err(err).Str("hub", hubID.String()).Msg("Failed to save hub state")
			}
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("Listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// clientFrame is the inbound WebSocket envelope. The WebSocket framing and
// identity scheme are intentionally minimal (see SPEC_FULL.md Non-goals —
// OAuth identity providers and transport framing details are out of scope):
// a connection identifies itself once with the user ID it wants to act as,
// then issues subscribe/typing/send commands against it.
type clientFrame struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

func (s *server) handleGateway(w http.ResponseWriter, r *http.Request) {
	connID := id.New()
	conn, err := transport.Upgrade(w, r, connID, transport.Options{
		WriteQueueDepth: s.cfg.WriteQueueDepth,
		PingInterval:    s.cfg.PingInterval,
		PongTimeout:     s.cfg.PongTimeout,
		MaxMessageBytes: int64(s.cfg.MaxMessageBytes),
	})
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	connLog := httputil.NewConnLogger(log.Logger, connID)

	ctx := r.Context()
	if err := s.nh.Submit(ctx, notify.Connect{ConnID: connID, Writer: conn}); err != nil {
		conn.Close()
		connLog.Close(httputil.OutcomeInternalError, err)
		return
	}

	var lastErr error
	state := &connState{}
	conn.Serve(ctx, func(ctx context.Context, connID id.ID, payload []byte) error {
		if err := s.handleClientFrame(ctx, connID, state, payload); err != nil {
			lastErr = err
			return err
		}
		return nil
	})

	_ = s.nh.Submit(context.Background(), notify.Disconnect{ConnID: connID})
	if lastErr != nil {
		connLog.Close(httputil.OutcomeProtocolError, lastErr)
	} else {
		connLog.Close(httputil.OutcomeClean, nil)
	}
}

// connState tracks the single claimed identity and current hub for a
// connection, since the minimal wire protocol has no separate session
// store (see clientFrame).
type connState struct {
	userID id.ID
	hubID  id.ID
}

func (s *server) handleClientFrame(ctx context.Context, connID id.ID, state *connState, payload []byte) error {
	var f clientFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return err
	}

	switch f.Op {
	case "identify":
		var body struct {
			UserID string `json:"user_id"`
			HubID  string `json:"hub_id"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		userID, err := id.Parse(body.UserID)
		if err != nil {
			return err
		}
		hubID, err := id.Parse(body.HubID)
		if err != nil {
			return err
		}
		state.userID, state.hubID = userID, hubID
		return s.nh.Submit(ctx, notify.SubscribeHub{ConnID: connID, HubID: hubID, UserID: userID})

	case "join_hub":
		var body struct {
			Nickname string `json:"nickname"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		return s.nh.Submit(ctx, notify.JoinHub{ConnID: connID, HubID: state.hubID, UserID: state.userID, Nickname: body.Nickname})

	case "leave_hub":
		return s.nh.Submit(ctx, notify.LeaveHub{HubID: state.hubID, UserID: state.userID})

	case "subscribe_channel":
		var body struct {
			ChannelID string `json:"channel_id"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		chID, err := id.Parse(body.ChannelID)
		if err != nil {
			return err
		}
		return s.nh.Submit(ctx, notify.SubscribeChannel{ConnID: connID, ChannelID: chID, HubID: state.hubID, UserID: state.userID})

	case "unsubscribe_channel":
		var body struct {
			ChannelID string `json:"channel_id"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		chID, err := id.Parse(body.ChannelID)
		if err != nil {
			return err
		}
		return s.nh.Submit(ctx, notify.UnsubscribeChannel{ConnID: connID, ChannelID: chID})

	case "typing_start":
		var body struct {
			ChannelID string `json:"channel_id"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		chID, err := id.Parse(body.ChannelID)
		if err != nil {
			return err
		}
		return s.nh.Submit(ctx, notify.StartTyping{HubID: state.hubID, ChannelID: chID, UserID: state.userID})

	case "typing_stop":
		var body struct {
			ChannelID string `json:"channel_id"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		chID, err := id.Parse(body.ChannelID)
		if err != nil {
			return err
		}
		return s.nh.Submit(ctx, notify.StopTyping{HubID: state.hubID, ChannelID: chID, UserID: state.userID})

	case "send_message":
		var body struct {
			ChannelID string `json:"channel_id"`
			Content   string `json:"content"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		chID, err := id.Parse(body.ChannelID)
		if err != nil {
			return err
		}
		if err := message.ValidateContent(body.Content); err != nil {
			return err
		}
		msg := message.Message{
			ID:          id.New(),
			HubID:       state.hubID,
			ChannelID:   chID,
			Sender:      state.userID,
			CreatedAtMs: time.Now().UnixMilli(),
			Content:     body.Content,
		}
		return s.nh.Submit(ctx, notify.NewMessage{HubID: state.hubID, ChannelID: chID, Msg: msg})

	case "create_channel":
		var body struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		return s.nh.Submit(ctx, notify.CreateChannel{HubID: state.hubID, ActorID: state.userID, Name: body.Name})

	case "rename_channel":
		var body struct {
			ChannelID string `json:"channel_id"`
			Name      string `json:"name"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		chID, err := id.Parse(body.ChannelID)
		if err != nil {
			return err
		}
		return s.nh.Submit(ctx, notify.RenameChannel{HubID: state.hubID, ActorID: state.userID, ChannelID: chID, Name: body.Name})

	case "delete_channel":
		var body struct {
			ChannelID string `json:"channel_id"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		chID, err := id.Parse(body.ChannelID)
		if err != nil {
			return err
		}
		return s.nh.Submit(ctx, notify.DeleteChannel{HubID: state.hubID, ActorID: state.userID, ChannelID: chID})

	case "create_group":
		var body struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		return s.nh.Submit(ctx, notify.CreateGroup{HubID: state.hubID, ActorID: state.userID, Name: body.Name})

	case "mute_member":
		var body struct {
			TargetUserID string `json:"target_user_id"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		targetID, err := id.Parse(body.TargetUserID)
		if err != nil {
			return err
		}
		return s.nh.Submit(ctx, notify.MuteMember{HubID: state.hubID, ActorID: state.userID, TargetID: targetID})

	case "unmute_member":
		var body struct {
			TargetUserID string `json:"target_user_id"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		targetID, err := id.Parse(body.TargetUserID)
		if err != nil {
			return err
		}
		return s.nh.Submit(ctx, notify.UnmuteMember{HubID: state.hubID, ActorID: state.userID, TargetID: targetID})

	case "ban_member":
		var body struct {
			TargetUserID string `json:"target_user_id"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return err
		}
		targetID, err := id.Parse(body.TargetUserID)
		if err != nil {
			return err
		}
		return s.nh.Submit(ctx, notify.BanMember{HubID: state.hubID, ActorID: state.userID, TargetID: targetID})

	default:
		return nil
	}
}
