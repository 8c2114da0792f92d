package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"iotc-agent/internal/config"
	"iotc-agent/internal/model"
	"iotc-agent/pkg/iotconnect"
)

// EventHandler receives the events of the remote session. The device agent
// implements it.
type EventHandler interface {
	OnCommandMessage(ctx context.Context, msg model.CommandMessage)
	OnRemoteMetadataUpdate(metadata []model.AttributeMetadata)
	OnAttributeChange(ctx context.Context) error
	OnCallback(ctx context.Context, msg model.CallbackMessage) error
}

// session is the part of iotconnect.Client the service drives.
type session interface {
	Connect() error
	Disconnect() error
	IsClientAlive() bool
	OnMessage(msgType string, handler iotconnect.MessageHandler)
	OnReconnect(fn func())
	Send(ctx context.Context, msgType string, payload any) error
	SendRaw(ctx context.Context, msgType string, payload json.RawMessage) error
}

type discoverFunc func(ctx context.Context, hc *http.Client, discoveryURL, cpid, env, uniqueID string) (string, error)

type RemoteService struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	mu      sync.RWMutex
	client  session
	handler EventHandler
	baseCtx context.Context

	discover   discoverFunc
	newSession func(url string, hc *http.Client) session
	retryDelay time.Duration
}

// NewRemoteService creates a RemoteService. It does not connect.
func NewRemoteService(cfg *config.Config, logger *zap.SugaredLogger) *RemoteService {
	return &RemoteService{
		cfg:        cfg,
		logger:     logger,
		baseCtx:    context.Background(),
		discover:   iotconnect.Discover,
		retryDelay: 5 * time.Second,
		newSession: func(url string, hc *http.Client) session {
			return iotconnect.NewClient(url, logger.Desugar(), iotconnect.WithHTTPClient(hc))
		},
	}
}

// Bind sets the receiver of remote events. It must be called before Connect.
func (r *RemoteService) Bind(handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

// Connect discovers the session endpoint, opens the session and requests
// the attribute metadata.
func (r *RemoteService) Connect(ctx context.Context) error {
	tlsCfg, err := r.cfg.CreateRemoteTLSConfig()
	if err != nil {
		return fmt.Errorf("remote tls: %w", err)
	}
	hc := &http.Client{
		Timeout:   15 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}

	d := r.cfg.Device
	url, err := r.discover(ctx, hc, d.DiscoveryURL, d.CPID, d.Env, d.DUID)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	client := r.newSession(url, hc)
	r.registerHandlers(client)
	client.OnReconnect(func() {
		if err := r.RequestAttributes(r.eventCtx()); err != nil {
			r.logger.Warnw("failed to request attributes after reconnect", "error", err)
		}
	})

	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect remote session: %w", err)
	}

	r.mu.Lock()
	r.client = client
	r.baseCtx = ctx
	r.mu.Unlock()

	r.logger.Infow("remote session connected", "url", url, "duid", d.DUID, "platform", d.Platform())
	if err := r.RequestAttributes(ctx); err != nil {
		r.logger.Warnw("failed to request attributes", "error", err)
	}
	return nil
}

// Run connects with backoff, then holds the session until ctx is done.
func (r *RemoteService) Run(ctx context.Context) error {
	backoff := r.retryDelay
	maxBackoff := 2 * time.Minute

	for {
		err := r.Connect(ctx)
		if err == nil {
			break
		}
		r.logger.Warnw("remote connect failed, retrying", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	<-ctx.Done()
	r.Shutdown()
	return nil
}

func (r *RemoteService) registerHandlers(client session) {
	client.OnMessage(iotconnect.TypeCommand, func(env iotconnect.Envelope) {
		var msg model.CommandMessage
		if err := jsonStd.Unmarshal(env.Payload, &msg); err != nil {
			r.logger.Errorw("failed to parse command message", "error", err)
			return
		}
		if h := r.eventHandler(); h != nil {
			h.OnCommandMessage(r.eventCtx(), msg)
		}
	})

	client.OnMessage(iotconnect.TypeAttributes, func(env iotconnect.Envelope) {
		var resp model.AttributesResponse
		if err := jsonStd.Unmarshal(env.Payload, &resp); err != nil {
			r.logger.Errorw("failed to parse attribute metadata", "error", err)
			return
		}
		if h := r.eventHandler(); h != nil {
			h.OnRemoteMetadataUpdate(resp.Data)
		}
	})

	client.OnMessage(iotconnect.TypeAttributeChange, func(iotconnect.Envelope) {
		if h := r.eventHandler(); h != nil {
			if err := h.OnAttributeChange(r.eventCtx()); err != nil {
				r.logger.Warnw("attribute change not handled", "error", err)
			}
		}
	})

	for _, kind := range []string{
		iotconnect.TypeOTA,
		iotconnect.TypeModule,
		iotconnect.TypeTwin,
		iotconnect.TypeDeviceChange,
		iotconnect.TypeRuleChange,
	} {
		client.OnMessage(kind, func(env iotconnect.Envelope) {
			h := r.eventHandler()
			if h == nil {
				return
			}
			msg := model.CallbackMessage{Kind: env.Type, Payload: env.Payload}
			if err := h.OnCallback(r.eventCtx(), msg); err != nil {
				r.logger.Warnw("callback not handled", "kind", env.Type, "error", err)
			}
		})
	}
}

// SendTelemetry sends records as one telemetry frame.
func (r *RemoteService) SendTelemetry(ctx context.Context, records []model.TelemetryRecord) error {
	client, err := r.liveClient()
	if err != nil {
		return err
	}
	payload, err := model.MarshalTelemetry(records)
	if err != nil {
		return fmt.Errorf("encode telemetry: %w", err)
	}
	return asNoClient(client.SendRaw(ctx, iotconnect.TypeTelemetry, payload))
}

// SendAck implements command.Acker.
func (r *RemoteService) SendAck(ctx context.Context, ack model.AckMessage) error {
	client, err := r.liveClient()
	if err != nil {
		return err
	}
	return asNoClient(client.Send(ctx, iotconnect.TypeAck, ack))
}

// RequestAttributes asks the remote side to (re)send the attribute metadata.
func (r *RemoteService) RequestAttributes(ctx context.Context) error {
	client, err := r.liveClient()
	if err != nil {
		return err
	}
	return asNoClient(client.Send(ctx, iotconnect.TypeGetAttributes, nil))
}

// IsAlive checks if the remote session is connected
func (r *RemoteService) IsAlive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return false
	}
	return r.client.IsClientAlive()
}

func (r *RemoteService) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		if err := r.client.Disconnect(); err != nil {
			r.logger.Warnw("failed to disconnect remote session", "error", err)
		} else {
			r.logger.Info("remote session disconnected")
		}
		r.client = nil
	}
}

func (r *RemoteService) liveClient() (session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil || !r.client.IsClientAlive() {
		return nil, model.ErrNoClient
	}
	return r.client, nil
}

func (r *RemoteService) eventHandler() EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handler
}

func (r *RemoteService) eventCtx() context.Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseCtx
}

// asNoClient maps a session that dropped between the liveness check and
// the write onto model.ErrNoClient.
func asNoClient(err error) error {
	if errors.Is(err, iotconnect.ErrNotConnected) {
		return fmt.Errorf("%w: %w", model.ErrNoClient, err)
	}
	return err
}
