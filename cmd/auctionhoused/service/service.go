// Package service wires the auction house daemon together.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ds "github.com/ipfs/go-datastore"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/house"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/httpapi"
	"github.com/textileio/auctionhouse/dshelper"
	"github.com/textileio/auctionhouse/finalizer"
	"github.com/textileio/auctionhouse/logging"
	mbroker "github.com/textileio/auctionhouse/msgbroker"
	golog "github.com/textileio/go-log/v2"
)

var log = golog.Logger("auctionhouse/service")

// Config defines params for Service configuration.
type Config struct {
	HTTPAddr string
	// RepoPath is the LevelDB directory. It's ignored when InMemory is set.
	RepoPath string
	InMemory bool
	// AuthSecret is the HMAC key for bearer tokens. When empty, callers
	// identify themselves with the X-Party-ID header.
	AuthSecret string
	// AuditEvents logs every event published to the message broker.
	AuditEvents bool
	House       house.Config
}

// Service runs the auction house and its HTTP API.
type Service struct {
	house  *house.House
	server *http.Server

	finalizer *finalizer.Finalizer
}

var _ mbroker.AuctionEventsListener = (*Service)(nil)

// New returns a new Service. The caller keeps ownership of mb.
func New(mb mbroker.MsgBroker, clock auction.Clock, conf Config) (*Service, error) {
	fin := finalizer.NewFinalizer()

	var (
		store ds.TxnDatastore
		err   error
	)
	if conf.InMemory {
		store = dshelper.NewInMemoryTxnDatastore()
		log.Warn("using in-memory datastore, state will be lost on shutdown")
	} else {
		store, err = dshelper.NewLevelDBTxnDatastore(conf.RepoPath)
		if err != nil {
			return nil, fin.Cleanupf("creating datastore: %v", err)
		}
	}
	fin.Add(store)

	h, err := house.New(store, mb, clock, conf.House)
	if err != nil {
		return nil, fin.Cleanupf("creating auction house: %v", err)
	}
	fin.Add(h)

	var auth httpapi.Authenticator = httpapi.HeaderAuthenticator{}
	if conf.AuthSecret != "" {
		auth = httpapi.NewJWTAuthenticator(conf.AuthSecret)
	} else {
		log.Warnf("authentication is disabled, callers are trusted by the %s header", httpapi.PartyHeader)
	}

	s := &Service{house: h, finalizer: fin}
	if conf.AuditEvents {
		if err := mbroker.RegisterHandlers(mb, s); err != nil {
			return nil, fin.Cleanupf("registering event handlers: %v", err)
		}
	}

	s.server, err = httpapi.NewServer(conf.HTTPAddr, h, auth)
	if err != nil {
		return nil, fin.Cleanupf("creating http server: %v", err)
	}
	fin.AddFn(s.shutdownServer)

	log.Info("service started")
	return s, nil
}

// House returns the underlying auction house.
func (s *Service) House() *house.House {
	return s.house
}

// OnAuctionEvent implements msgbroker.AuctionEventsListener.
func (s *Service) OnAuctionEvent(_ context.Context, topic mbroker.TopicName, ev mbroker.AuctionEvent) {
	if ev.Amount > 0 {
		log.Infof("[%s] auction %s (%s, %s) party %s amount %s",
			topic, ev.AuctionID, ev.Kind, ev.Phase, ev.Party, logging.Amount(ev.Amount))
		return
	}
	log.Infof("[%s] auction %s (%s, %s) party %s", topic, ev.AuctionID, ev.Kind, ev.Phase, ev.Party)
}

func (s *Service) shutdownServer() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %s", err)
	}
	return nil
}

// Close the service.
func (s *Service) Close() error {
	defer log.Info("service was shutdown")
	return s.finalizer.Cleanup(nil)
}
