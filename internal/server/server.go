package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/codecollab/realtime/internal/access"
	"github.com/codecollab/realtime/internal/chat"
	"github.com/codecollab/realtime/internal/collab"
	"github.com/codecollab/realtime/internal/notify"
	"github.com/codecollab/realtime/internal/presence"
	"github.com/codecollab/realtime/internal/server/middleware"
	"github.com/codecollab/realtime/internal/signal"
	"github.com/codecollab/realtime/internal/store"
	"github.com/codecollab/realtime/pkg/config"
	"github.com/codecollab/realtime/pkg/state"
	"github.com/codecollab/realtime/pkg/transport"
)

type App struct {
	logger *slog.Logger
	config *config.Config

	directory   *state.Directory
	collabRooms *state.Registry
	signalRooms *state.Registry

	chatRouter *chat.Router
	editRelay  *collab.Relay
	forwarder  *signal.Forwarder
	notifier   *notify.Notifier

	wg   sync.WaitGroup
	http *http.Server
	ctx  context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, stores store.Stores) *App {
	directory := state.NewDirectory(logger)
	collabRooms := state.NewRegistry(state.ChannelCollab, logger)
	signalRooms := state.NewRegistry(state.ChannelSignal, logger)

	presenceEngine := presence.NewEngine(stores.Friends, directory, logger)
	directory.SetPresenceListener(presenceEngine)

	gate := access.NewGate(stores.Permissions, logger)

	app := &App{
		logger:      logger,
		config:      cfg,
		directory:   directory,
		collabRooms: collabRooms,
		signalRooms: signalRooms,
		chatRouter:  chat.NewRouter(directory, stores.Users, stores.Groups, stores.Messages, logger),
		editRelay:   collab.NewRelay(collabRooms, gate, logger),
		forwarder:   signal.NewForwarder(signalRooms, logger),
		notifier:    notify.NewNotifier(directory, stores.Notifications, logger),
		ctx:         rootCtx,
	}

	connCycler := func(userID uuid.UUID) {
		oldest, found := directory.OldestSession(userID)
		if found {
			logger.Info("Cycling connection: closing oldest", "userID", userID, "connID", oldest.ID())
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	authMw := middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret)
	mux := http.NewServeMux()
	mux.Handle("/ws/chat",
		middleware.Chain(http.HandlerFunc(app.upgradeChat),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			authMw,
			middleware.NewConnectionLimiter(
				logger,
				directory.SessionCount,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)
	mux.Handle("/ws/collab/{room}",
		middleware.Chain(http.HandlerFunc(app.upgradeCollab),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			authMw,
		),
	)
	mux.Handle("/ws/signal/{room}",
		middleware.Chain(http.HandlerFunc(app.upgradeSignal),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			authMw,
		),
	)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// Notifier exposes the push primitive for collaborators outside the realtime
// core (friend-request and permission-change notifications).
func (a *App) Notifier() *notify.Notifier {
	return a.notifier
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

// accept upgrades the HTTP request and wraps it in a managed transport
// connection.
func (a *App) accept(w http.ResponseWriter, r *http.Request) (*transport.Connection, bool) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return nil, false
	}
	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	return conn, true
}

func (a *App) upgradeChat(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID.String()),
	)

	conn, ok := a.accept(w, r)
	if !ok {
		return
	}
	sess := state.NewSession(reqMeta.UserID, reqMeta.Username, state.ChannelChat, conn)

	conn.SetOnMessageHandler(func(ctx context.Context, _ uuid.UUID, msg []byte) {
		a.chatRouter.HandleMessage(ctx, sess, msg)
	})
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering chat session due to closure", slog.String("connID", id.String()))
		a.directory.Unregister(a.ctx, sess)
	})

	a.directory.Register(r.Context(), sess)
	connLogger.Info("Chat session fully established")
	conn.Run()
	<-conn.Done()
}

func (a *App) upgradeCollab(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())

	// Collab rooms are keyed by environment id; a malformed id is rejected
	// here instead of collapsing unrelated traffic into a shared room.
	resourceID, err := uuid.Parse(r.PathValue("room"))
	if err != nil {
		a.logger.Warn("Rejecting collab upgrade with malformed room id",
			slog.String("room", r.PathValue("room")), slog.String("ip", reqMeta.IP))
		http.Error(w, "Invalid room id", http.StatusBadRequest)
		return
	}

	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID.String()),
		slog.String("roomID", resourceID.String()),
	)

	conn, ok := a.accept(w, r)
	if !ok {
		return
	}
	sess := state.NewSession(reqMeta.UserID, reqMeta.Username, state.ChannelCollab, conn)

	conn.SetOnMessageHandler(func(ctx context.Context, _ uuid.UUID, msg []byte) {
		a.editRelay.HandleUpdate(ctx, sess, resourceID, msg)
	})
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Collab session leaving room", slog.String("connID", id.String()))
		a.editRelay.Leave(sess)
	})

	if err := a.editRelay.Join(sess, resourceID); err != nil {
		connLogger.Error("Failed to join collab room", slog.Any("error", err))
		conn.Run()
		conn.Close(err)
		return
	}
	connLogger.Info("Collab session joined room")
	conn.Run()
	<-conn.Done()
}

func (a *App) upgradeSignal(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	roomID := r.PathValue("room")

	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID.String()),
		slog.String("roomID", roomID),
	)

	conn, ok := a.accept(w, r)
	if !ok {
		return
	}
	sess := state.NewSession(reqMeta.UserID, reqMeta.Username, state.ChannelSignal, conn)

	conn.SetOnMessageHandler(func(ctx context.Context, _ uuid.UUID, msg []byte) {
		a.forwarder.HandleMessage(ctx, sess, msg)
	})
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Signaling session leaving room", slog.String("connID", id.String()))
		a.forwarder.Leave(sess)
	})

	if err := a.forwarder.Join(sess, roomID); err != nil {
		connLogger.Error("Failed to join signaling room", slog.Any("error", err))
		conn.Run()
		conn.Close(err)
		return
	}
	connLogger.Info("Signaling session joined room")
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := a.http.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		a.logger.Error("HTTP shutdown did not complete cleanly", slog.Any("error", shutdownErr))
	}

	// Close all active WebSocket connections even when the HTTP shutdown
	// timed out; sessions must not outlive the listener.
	a.logger.Info("Closing all active connections...")
	for _, s := range a.directory.Sessions() {
		s.Transport.Close(errors.New("graceful shutdown"))
	}
	for _, s := range a.collabRooms.Sessions() {
		s.Transport.Close(errors.New("graceful shutdown"))
	}
	for _, s := range a.signalRooms.Sessions() {
		s.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return shutdownErr
}
