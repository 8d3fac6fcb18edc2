package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/api"
	"github.com/Vedant1607/QuickChat/internal/auth"
	"github.com/Vedant1607/QuickChat/internal/chat"
	"github.com/Vedant1607/QuickChat/internal/media"
	"github.com/Vedant1607/QuickChat/internal/messaging"
	"github.com/Vedant1607/QuickChat/internal/metrics"
	"github.com/Vedant1607/QuickChat/internal/presence"
	"github.com/Vedant1607/QuickChat/internal/protocol"
	"github.com/Vedant1607/QuickChat/internal/ratelimit"
	"github.com/Vedant1607/QuickChat/internal/session"
	"github.com/Vedant1607/QuickChat/internal/store"
	"github.com/Vedant1607/QuickChat/internal/ws"
)

const routeRefreshInterval = session.RouteTTL / 2

func setupLogging() {
	if os.Getenv("LOG_FORMAT") == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level := logrus.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if l, err := logrus.ParseLevel(v); err == nil {
			level = l
		}
	}
	logrus.SetLevel(level)
}

func main() {
	setupLogging()
	log := logrus.WithField("component", "main")

	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "chat-1"
	}

	// --- Store ---
	var st store.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		pg, err := store.OpenPostgres(ctx, dsn)
		cancel()
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		st = pg
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	// --- Media ---
	mediaConfig := media.DefaultConfig()
	if v := os.Getenv("MEDIA_DIR"); v != "" {
		mediaConfig.Dir = v
	}
	if v := os.Getenv("MEDIA_BASE_URL"); v != "" {
		mediaConfig.BaseURL = v
	}
	disk, err := media.NewDisk(mediaConfig)
	if err != nil {
		log.Fatalf("failed to prepare media dir: %v", err)
	}

	tokens := auth.NewTokens(secret, auth.DefaultTokenTTL)
	authSvc := auth.NewService(st, tokens, disk)
	reconciler := chat.NewReconciler(st)
	unseen := chat.NewUnseen(st)

	// --- WebSocket server ---
	dispatcher := ws.NewMessageDispatcher()
	dispatcher.Register(protocol.TypeMarkSeen, func(conn *ws.Connection, msg interface{}) {
		seen, ok := msg.(protocol.MarkSeenMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := reconciler.MarkSeen(ctx, conn.Identity, seen.MessageID); err != nil {
			logrus.WithFields(logrus.Fields{
				"component":  "ws",
				"identity":   conn.Identity,
				"message_id": seen.MessageID,
			}).WithError(err).Debug("markSeen rejected")
			ws.SendError(conn, "mark_seen_failed", err.Error())
		}
	})

	server := ws.NewServer(config, tokens, dispatcher.Dispatch)
	pipeline := chat.NewPipeline(st, disk, server)
	broadcaster := presence.NewBroadcaster(server.Registry())

	// --- Redis (optional) ---
	var routes *session.Store
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr != "" {
		routes, err = session.NewStore(redisAddr, serverName)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
	}

	// --- NATS (optional, needs the route table) ---
	var natsClient *messaging.NATSClient
	var relay *messaging.Relay
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		if routes == nil {
			log.Fatal("NATS_URL requires REDIS_ADDR for the route table")
		}
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = natsURL
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}

		relay = messaging.NewRelay(natsClient, routes, routes.ServerName())
		if err := relay.Listen(natsClient, server); err != nil {
			log.Fatalf("failed to subscribe delivery subject: %v", err)
		}
		pipeline.SetRelay(relay)
	}

	server.SetOnConnect(func(c *ws.Connection) {
		if routes != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := routes.Set(ctx, c.Identity, c.ID); err != nil {
				log.WithField("identity", c.Identity).WithError(err).Warn("route set failed")
			}
			cancel()
		}
		broadcaster.BroadcastOnlineSet()
	})
	server.SetOnDisconnect(func(c *ws.Connection) {
		if routes != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if _, err := routes.Delete(ctx, c.Identity, c.ID); err != nil {
				log.WithField("identity", c.Identity).WithError(err).Warn("route delete failed")
			}
			cancel()
		}
		broadcaster.BroadcastOnlineSet()
	})

	// --- HTTP API ---
	apiConfig := api.DefaultConfig()
	if v := os.Getenv("TRUST_FORWARDED_FOR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			apiConfig.TrustForwardedFor = b
		}
	}
	apiHandler := api.New(apiConfig, authSvc, pipeline, reconciler, unseen)
	if routes != nil {
		apiHandler.SetLimiter(ratelimit.NewLimiter(routes.Client()))
	}
	server.Handle("/api/", apiHandler)
	server.Handle("GET /metrics", metrics.Handler())
	server.Handle("GET /media/", http.StripPrefix("/media/", disk.Handler()))

	log.WithFields(logrus.Fields{
		"listen_addr":     config.ListenAddr,
		"worker_pool":     config.WorkerPoolSize,
		"max_connections": config.MaxConnections,
		"read_timeout":    config.ReadTimeout.String(),
		"write_timeout":   config.WriteTimeout.String(),
		"redis_addr":      redisAddr,
		"relay":           natsClient != nil,
		"server_name":     serverName,
		"media_dir":       mediaConfig.Dir,
	}).Info("QuickChat server starting")

	refreshDone := make(chan struct{})
	if routes != nil {
		go func() {
			ticker := time.NewTicker(routeRefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-refreshDone:
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					if err := routes.Refresh(ctx, server.Registry().Online()); err != nil {
						log.WithError(err).Warn("route refresh failed")
					}
					cancel()
				}
			}
		}()
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("initiating graceful shutdown")
		close(refreshDone)
		if natsClient != nil {
			if err := relay.Stop(natsClient); err != nil {
				log.WithError(err).Warn("relay stop error")
			}
			natsClient.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.WithError(err).Warn("shutdown error")
		}
		if routes != nil {
			if err := routes.Close(); err != nil {
				log.WithError(err).Warn("route store close error")
			}
		}
		if err := st.Close(); err != nil {
			log.WithError(err).Warn("store close error")
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
