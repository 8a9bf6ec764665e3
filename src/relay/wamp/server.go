package wamp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	cm "github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/relay"
	"github.com/sirupsen/logrus"
)

// Server implements a WAMP server through which connected peers share a
// relay.Hub.
type Server struct {
	address    string
	realm      string
	router     router.Router
	httpServer *http.Server
	local      *client.Client
	hub        *relay.Hub
	tls        bool
	logger     *logrus.Entry
}

// NewServer instantiates a new Server which can be run at a specified address.
// If certFile and keyFile are empty, the server uses plain web-sockets.
func NewServer(address string,
	realm string,
	hub *relay.Hub,
	certFile string,
	keyFile string,
	logger *logrus.Entry) (*Server, error) {

	// Create router instance.
	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
			},
		},
	}

	nxr, err := router.NewRouter(routerConfig, logger)
	if err != nil {
		return nil, err
	}

	wss := router.NewWebsocketServer(nxr)

	httpServer := &http.Server{
		Handler: wss,
		Addr:    address,
	}

	useTLS := certFile != "" || keyFile != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			nxr.Close()
			return nil, fmt.Errorf("error loading X509 key pair: %s", err)
		}
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	local, err := client.ConnectLocal(nxr, client.Config{
		Realm:  realm,
		Logger: logger,
	})
	if err != nil {
		nxr.Close()
		return nil, err
	}

	res := &Server{
		address:    address,
		realm:      realm,
		router:     nxr,
		httpServer: httpServer,
		local:      local,
		hub:        hub,
		tls:        useTLS,
		logger:     logger,
	}

	if err := res.register(); err != nil {
		local.Close()
		nxr.Close()
		return nil, err
	}

	hub.Watch(res.publish)

	return res, nil
}

// Run starts the WAMP websocket server
func (s *Server) Run() error {
	s.logger.WithFields(logrus.Fields{
		"address": s.address,
		"realm":   s.realm,
		"tls":     s.tls,
	}).Debug("Serving relay")

	var err error
	if s.tls {
		// The certificates have already been loaded in the TLSConfig
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Run")
		return err
	}
	return nil
}

// Shutdown stops the websocket server, and the wamp router
func (s *Server) Shutdown() {
	defer s.router.Close()

	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.logger.WithError(err).Error("Shutting down http server")
	}

	s.local.Close()
}

// Addr returns the address of the server
func (s *Server) Addr() string {
	return s.address
}

// Hub returns the relay served by the server.
func (s *Server) Hub() *relay.Hub {
	return s.hub
}

func (s *Server) register() error {
	procs := map[string]client.InvocationHandler{
		ProcPush:   s.handlePush,
		ProcRemove: s.handleRemove,
		ProcList:   s.handleList,
		ProcQuery:  s.handleQuery,
	}

	for name, handler := range procs {
		if err := s.local.Register(name, handler, nil); err != nil {
			s.logger.WithError(err).WithField("procedure", name).Error("Failed to register procedure")
			return err
		}
	}

	s.logger.Debug("Registered relay procedures with router")

	return nil
}

// publish forwards changes of the hub to subscribed clients.
func (s *Server) publish(op relay.Op, topic string, rec relay.Record) {
	raw, err := cm.EncodeJSON(rec)
	if err != nil {
		s.logger.WithError(err).Error("Encoding record")
		return
	}

	uri := addedTopic(topic)
	if op == relay.Removed {
		uri = removedTopic(topic)
	}

	if err := s.local.Publish(uri, nil, wamp.List{string(raw)}, nil); err != nil {
		s.logger.WithError(err).WithField("topic", uri).Error("Publishing event")
	}
}

func (s *Server) handlePush(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	args, res, ok := stringArgs(inv, 2)
	if !ok {
		return res
	}

	fields := relay.Fields{}
	if err := cm.DecodeJSON([]byte(args[1]), &fields); err != nil {
		return errResult(fmt.Sprintf("Error parsing fields: %v", err))
	}

	key, err := s.hub.Push(ctx, args[0], fields)
	if err != nil {
		return errResult(err.Error())
	}

	return client.InvokeResult{Args: wamp.List{key}}
}

func (s *Server) handleRemove(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	args, res, ok := stringArgs(inv, 2)
	if !ok {
		return res
	}

	if err := s.hub.Remove(ctx, args[0], args[1]); err != nil {
		return errResult(err.Error())
	}

	return client.InvokeResult{}
}

func (s *Server) handleList(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	args, res, ok := stringArgs(inv, 1)
	if !ok {
		return res
	}

	recs, err := s.hub.List(ctx, args[0])
	if err != nil {
		return errResult(err.Error())
	}

	return recordsResult(recs)
}

func (s *Server) handleQuery(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	args, res, ok := stringArgs(inv, 3)
	if !ok {
		return res
	}

	recs, err := s.hub.QueryByField(ctx, args[0], args[1], args[2])
	if err != nil {
		return errResult(err.Error())
	}

	return recordsResult(recs)
}

func recordsResult(recs []relay.Record) client.InvokeResult {
	raw, err := cm.EncodeJSON(recs)
	if err != nil {
		return errResult(fmt.Sprintf("Error encoding records: %v", err))
	}
	return client.InvokeResult{Args: wamp.List{string(raw)}}
}

func stringArgs(inv *wamp.Invocation, n int) ([]string, client.InvokeResult, bool) {
	if len(inv.Arguments) != n {
		return nil, errResult(
			fmt.Sprintf("Invocation should contain %d arguments, not %d", n, len(inv.Arguments))), false
	}

	res := make([]string, n)
	for i, a := range inv.Arguments {
		s, ok := wamp.AsString(a)
		if !ok {
			return nil, errResult(fmt.Sprintf("Error reading invocation argument %d", i)), false
		}
		res[i] = s
	}

	return res, client.InvokeResult{}, true
}
