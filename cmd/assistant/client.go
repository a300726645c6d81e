package main

import (
	"context"
	"log"

	"github.com/GenorTG/personal-assistant-sub001/internal/apperrors"
	"github.com/GenorTG/personal-assistant-sub001/internal/cache"
	"github.com/GenorTG/personal-assistant-sub001/internal/clientstate"
	"github.com/GenorTG/personal-assistant-sub001/internal/config"
	"github.com/GenorTG/personal-assistant-sub001/internal/conversations"
	"github.com/GenorTG/personal-assistant-sub001/internal/events"
	"github.com/GenorTG/personal-assistant-sub001/internal/rpc"
	"github.com/GenorTG/personal-assistant-sub001/internal/transport"
)

// client bundles the sync stack a CLI command needs: the shared channel
// with its correlator and event router wired to it, the conversation
// service over the shared cache, and persisted client state.
type client struct {
	cfg        *config.Config
	channel    *transport.Channel
	correlator *rpc.Correlator
	router     *events.Router
	store      *cache.MemoryStore
	service    *conversations.Service
	state      *clientstate.Store
}

// newClient assembles the stack without connecting. Order matters: the
// store's fetcher is the service's fetch path, so the store is created
// first and the service handed to it through the fetcher indirection.
func newClient(cfg *config.Config, withState bool) (*client, error) {
	channel := transport.Shared(transport.Config{URL: cfg.SocketURL()})
	correlator := rpc.New(channel)
	router := events.NewRouter()

	channel.OnMessage(correlator.HandleFrame)
	channel.OnMessage(router.HandleFrame)
	channel.OnDrop(correlator.FailAll)

	var state *clientstate.Store
	if withState {
		var err error
		state, err = clientstate.Open(cfg.StateDB)
		if err != nil {
			// Persistence is an amenity; run without it.
			log.Printf("assistant: opening state db: %v", err)
			state = nil
		}
	}

	var service *conversations.Service
	store := cache.NewMemoryStore(func(ctx context.Context, key string) (interface{}, error) {
		return service.FetchValue(ctx, key)
	})
	service = conversations.New(correlator, store, router, state, cfg.RequestTimeout())

	return &client{
		cfg:        cfg,
		channel:    channel,
		correlator: correlator,
		router:     router,
		store:      store,
		service:    service,
		state:      state,
	}, nil
}

// connect establishes the socket and starts the service's push handlers.
func (c *client) connect() error {
	c.service.Start()
	if err := c.channel.Connect(); err != nil {
		return apperrors.Wrap(apperrors.CodeTransportDialFailed, "connect to backend", err)
	}
	return nil
}

// close tears the stack down in reverse order.
func (c *client) close() {
	c.service.Stop()
	c.channel.Disconnect()
	if c.state != nil {
		c.state.Close()
	}
}
