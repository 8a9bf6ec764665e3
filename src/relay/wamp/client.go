package wamp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	cm "github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/relay"
	"github.com/sirupsen/logrus"
)

// Client implements the relay.Channel interface on top of a WAMP relay server.
type Client struct {
	routerURL string
	config    client.Config
	client    *client.Client
	logger    *logrus.Entry

	subMu  sync.Mutex
	mu     sync.Mutex
	topics map[string]*topicSub
	nextID uint64
}

// topicSub multiplexes the local handlers of one WAMP subscription.
type topicSub struct {
	uri      string
	handlers []*handlerSub
}

type handlerSub struct {
	sync.Mutex
	id        uint64
	fn        relay.Handler
	seen      map[string]bool
	replaying bool
	pending   []relay.Record
	closed    bool
}

func (h *handlerSub) deliver(rec relay.Record) {
	h.Lock()
	defer h.Unlock()
	if h.replaying {
		h.pending = append(h.pending, rec)
		return
	}
	h.emit(rec)
}

// emit must be called with the lock held.
func (h *handlerSub) emit(rec relay.Record) {
	if h.closed || h.seen[rec.Key] {
		return
	}
	h.seen[rec.Key] = true
	h.fn(rec)
}

// replay delivers existing records, then the live records that arrived while
// they were being fetched.
func (h *handlerSub) replay(existing []relay.Record) {
	h.Lock()
	defer h.Unlock()
	for _, rec := range existing {
		h.emit(rec)
	}
	for _, rec := range h.pending {
		h.emit(rec)
	}
	h.pending = nil
	h.replaying = false
}

// NewClient instantiates a new Client, and opens a connection to the WAMP
// relay server. With secure set, the connection uses wss and trusts the
// certificate in caFile if it exists.
func NewClient(
	server string,
	realm string,
	secure bool,
	caFile string,
	insecureSkipVerify bool,
	responseTimeout time.Duration,
	logger *logrus.Entry,
) (*Client, error) {

	cfg := client.Config{
		Realm:           realm,
		ResponseTimeout: responseTimeout,
		Logger:          logger,
	}

	scheme := "ws"
	if secure {
		scheme = "wss"

		tlscfg, err := tlsConfig(caFile, insecureSkipVerify, logger)
		if err != nil {
			return nil, err
		}
		cfg.TlsCfg = tlscfg
	}

	res := &Client{
		routerURL: fmt.Sprintf("%s://%s", scheme, server),
		config:    cfg,
		logger:    logger,
		topics:    make(map[string]*topicSub),
	}

	if err := res.Connect(); err != nil {
		return nil, err
	}

	return res, nil
}

func tlsConfig(caFile string, insecureSkipVerify bool, logger *logrus.Entry) (*tls.Config, error) {
	tlscfg := &tls.Config{}

	if insecureSkipVerify {
		logger.Debug("Skip Verify. Accepting any certificate provided by relay server.")
		tlscfg.InsecureSkipVerify = true
		return tlscfg, nil
	}

	if _, err := os.Stat(caFile); caFile == "" || os.IsNotExist(err) {
		logger.Debug("No certificate file found. Relying on platform trusted certificates.")
		return tlscfg, nil
	}

	// Load PEM-encoded certificate to trust.
	certPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(certPEM) {
		return nil, errors.New("Failed to import certificate to trust")
	}
	tlscfg.RootCAs = roots

	// Decode and parse the server cert to extract the subject info.
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("Failed to decode certificate to trust")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Trusting certificate %s with CN: %s", caFile, cert.Subject.CommonName)

	// Set ServerName in TLS config to CN from trusted cert so that
	// certificate will validate if CN does not match DNS name.
	tlscfg.ServerName = cert.Subject.CommonName

	return tlscfg, nil
}

// Connect creates a new WAMP client connected to the relay server. If a WAMP
// client already exists and is already connected, it does nothing.
func (c *Client) Connect() error {
	if c.client != nil && c.client.Connected() {
		return nil
	}

	cli, err := client.ConnectNet(
		context.Background(),
		c.routerURL,
		c.config,
	)
	if err != nil {
		return err
	}

	c.client = cli

	return nil
}

// Push implements the relay.Channel interface.
func (c *Client) Push(ctx context.Context, topic string, fields relay.Fields) (string, error) {
	if err := relay.ValidTopic(topic); err != nil {
		return "", err
	}

	raw, err := cm.EncodeJSON(fields)
	if err != nil {
		return "", err
	}

	result, err := c.call(ctx, ProcPush, topic, string(raw))
	if err != nil {
		return "", err
	}

	key, ok := firstString(result)
	if !ok {
		return "", errors.New("Push result should contain a key")
	}

	return key, nil
}

// Remove implements the relay.Channel interface.
func (c *Client) Remove(ctx context.Context, topic string, key string) error {
	_, err := c.call(ctx, ProcRemove, topic, key)
	return err
}

// QueryByField implements the relay.Channel interface.
func (c *Client) QueryByField(ctx context.Context, topic string, field string, value string) ([]relay.Record, error) {
	result, err := c.call(ctx, ProcQuery, topic, field, value)
	if err != nil {
		return nil, err
	}
	return decodeRecords(result)
}

// List returns all the records of a topic in key order.
func (c *Client) List(ctx context.Context, topic string) ([]relay.Record, error) {
	result, err := c.call(ctx, ProcList, topic)
	if err != nil {
		return nil, err
	}
	return decodeRecords(result)
}

// OnChildAdded implements the relay.Channel interface. Records already in the
// topic are fetched after the subscription is made, so none is missed; records
// seen twice are delivered once.
func (c *Client) OnChildAdded(topic string, fn relay.Handler) (func(), error) {
	if err := relay.ValidTopic(topic); err != nil {
		return nil, err
	}

	h, cancel, err := c.subscribe(addedTopic(topic), fn, true)
	if err != nil {
		return nil, err
	}

	ctx, done := context.WithTimeout(context.Background(), c.config.ResponseTimeout)
	defer done()

	existing, err := c.List(ctx, topic)
	if err != nil {
		cancel()
		return nil, err
	}

	h.replay(existing)

	return cancel, nil
}

// OnChildRemoved implements the relay.Channel interface.
func (c *Client) OnChildRemoved(topic string, fn relay.Handler) (func(), error) {
	if err := relay.ValidTopic(topic); err != nil {
		return nil, err
	}

	_, cancel, err := c.subscribe(removedTopic(topic), fn, false)
	return cancel, err
}

// Close closes the connection to the WAMP server
func (c *Client) Close() error {
	c.subMu.Lock()
	c.mu.Lock()
	uris := make([]string, 0, len(c.topics))
	for uri, ts := range c.topics {
		for _, h := range ts.handlers {
			h.Lock()
			h.closed = true
			h.Unlock()
		}
		uris = append(uris, uri)
	}
	c.topics = make(map[string]*topicSub)
	c.mu.Unlock()

	for _, uri := range uris {
		c.client.Unsubscribe(uri)
	}
	c.subMu.Unlock()

	return c.client.Close()
}

func (c *Client) subscribe(uri string, fn relay.Handler, replaying bool) (*handlerSub, func(), error) {
	// subMu serialises round trips to the router; mu only guards the map so
	// that events keep flowing meanwhile.
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	c.nextID++
	h := &handlerSub{
		id:        c.nextID,
		fn:        fn,
		seen:      make(map[string]bool),
		replaying: replaying,
	}
	ts, ok := c.topics[uri]
	c.mu.Unlock()

	if !ok {
		if err := c.client.Subscribe(uri, func(ev *wamp.Event) { c.dispatch(uri, ev) }, nil); err != nil {
			c.logger.WithError(err).WithField("topic", uri).Error("Failed to subscribe")
			return nil, nil, err
		}
		ts = &topicSub{uri: uri}
	}

	c.mu.Lock()
	ts.handlers = append(ts.handlers, h)
	c.topics[uri] = ts
	c.mu.Unlock()

	cancel := func() { c.unsubscribe(uri, h) }

	return h, cancel, nil
}

func (c *Client) unsubscribe(uri string, h *handlerSub) {
	h.Lock()
	h.closed = true
	h.Unlock()

	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	ts, ok := c.topics[uri]
	if !ok {
		c.mu.Unlock()
		return
	}
	for i, o := range ts.handlers {
		if o.id == h.id {
			ts.handlers = append(ts.handlers[:i:i], ts.handlers[i+1:]...)
			break
		}
	}
	empty := len(ts.handlers) == 0
	if empty {
		delete(c.topics, uri)
	}
	c.mu.Unlock()

	if empty {
		if err := c.client.Unsubscribe(uri); err != nil {
			c.logger.WithError(err).WithField("topic", uri).Debug("Unsubscribe")
		}
	}
}

func (c *Client) dispatch(uri string, ev *wamp.Event) {
	raw, ok := firstString(ev.Arguments)
	if !ok {
		c.logger.WithField("topic", uri).Error("Event should contain a record")
		return
	}

	var rec relay.Record
	if err := cm.DecodeJSON([]byte(raw), &rec); err != nil {
		c.logger.WithError(err).WithField("topic", uri).Error("Decoding record")
		return
	}

	c.mu.Lock()
	var handlers []*handlerSub
	if ts, ok := c.topics[uri]; ok {
		handlers = ts.handlers
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h.deliver(rec)
	}
}

func (c *Client) call(ctx context.Context, proc string, args ...string) (wamp.List, error) {
	callArgs := make(wamp.List, len(args))
	for i, a := range args {
		callArgs[i] = a
	}

	if _, ok := ctx.Deadline(); !ok && c.config.ResponseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ResponseTimeout)
		defer cancel()
	}

	result, err := c.client.Call(ctx, proc, nil, callArgs, nil, nil)
	if err != nil {
		c.logger.WithError(err).WithField("procedure", proc).Debug("Call")
		return nil, err
	}

	return result.Arguments, nil
}

func firstString(args wamp.List) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	return wamp.AsString(args[0])
}

func decodeRecords(args wamp.List) ([]relay.Record, error) {
	raw, ok := firstString(args)
	if !ok {
		return nil, errors.New("Result should contain records")
	}

	recs := []relay.Record{}
	if err := cm.DecodeJSON([]byte(raw), &recs); err != nil {
		return nil, err
	}

	return recs, nil
}
