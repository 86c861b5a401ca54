package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"skoll/internal/common"
	"skoll/internal/engine"
	"skoll/internal/utils"
)

const (
	defaultNWorkers    = 10
	defaultConnTimeout = time.Minute
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session. Sessions are keyed by the account the client first
// submitted under, so execution reports can find their counterparties.
type ClientSession struct {
	conn net.Conn
}

// ClientMessage links a parsed message to the connection it arrived on.
type ClientMessage struct {
	conn    net.Conn
	message Message
}

type Server struct {
	address        string
	port           int
	engine         *engine.Engine
	pool           utils.WorkerPool
	cancel         context.CancelFunc
	sessions       map[common.AccountID]ClientSession
	sessionsLock   sync.Mutex
	clientMessages chan ClientMessage

	// Optional demo funding hook, run once per account on first sight.
	faucet func(common.AccountID)
	seen   map[common.AccountID]bool
}

func New(address string, port int, eng *engine.Engine) *Server {
	return &Server{
		address:        address,
		port:           port,
		engine:         eng,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		sessions:       make(map[common.AccountID]ClientSession),
		seen:           make(map[common.AccountID]bool),
		clientMessages: make(chan ClientMessage, 1),
	}
}

// SetFaucet installs a funding hook called once per new account. Demo
// deployments use it to seed ledger balances; leave unset in anything real.
func (s *Server) SetFaucet(f func(common.AccountID)) {
	s.faucet = f
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	// Start the session handler. It is the single consumer of client
	// messages, so every mutating engine call is serialized through it:
	// one book, one writer at a time.
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server running")

	// Start accepting connections.
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			log.Info().
				Str("address", conn.RemoteAddr().String()).
				Msg("new client connected")

			// Pass over the connection to be read from.
			s.pool.AddTask(conn)
		}
	}
}

// ReportFill implements engine.Reporter: both counterparties get an
// execution report if they are connected. A missing session is not an error,
// clients are free to disconnect with resting orders.
func (s *Server) ReportFill(fill common.Fill) error {
	bidderReport := Report{
		MessageType:  ExecutionReport,
		Side:         common.Bid,
		Price:        fill.Price,
		BaseQty:      fill.BaseQty,
		QuoteQty:     fill.QuoteQty,
		Timestamp:    uint64(fill.Timestamp.Unix()),
		PairID:       fill.Pair,
		Counterparty: string(fill.Asker),
	}
	askerReport := Report{
		MessageType:  ExecutionReport,
		Side:         common.Ask,
		Price:        fill.Price,
		BaseQty:      fill.BaseQty,
		QuoteQty:     fill.QuoteQty,
		Timestamp:    uint64(fill.Timestamp.Unix()),
		PairID:       fill.Pair,
		Counterparty: string(fill.Bidder),
	}

	if err := s.sendReport(fill.Bidder, &bidderReport); err != nil &&
		!errors.Is(err, ErrClientDoesNotExist) {
		return err
	}
	if err := s.sendReport(fill.Asker, &askerReport); err != nil &&
		!errors.Is(err, ErrClientDoesNotExist) {
		return err
	}
	return nil
}

// sessionHandler consumes parsed client messages and drives the engine.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case clientMessage := <-s.clientMessages:
			s.handleMessage(clientMessage)
		}
	}
}

func (s *Server) handleMessage(clientMessage ClientMessage) {
	switch m := clientMessage.message.(type) {
	case CreatePairMessage:
		s.bindSession(m.Account, clientMessage.conn)
		pair := s.engine.CreatePair(m.Base, m.Quote)
		report := Report{
			MessageType: PairCreatedReport,
			Timestamp:   uint64(time.Now().Unix()),
			PairID:      pair.ID(),
		}
		if err := s.sendReport(m.Account, &report); err != nil {
			log.Error().Err(err).Str("account", string(m.Account)).
				Msg("unable to send pair created report")
		}

	case SubmitMessage:
		s.bindSession(m.Account, clientMessage.conn)
		if err := s.submit(m); err != nil {
			log.Info().Err(err).
				Str("account", string(m.Account)).
				Str("side", m.Side().String()).
				Msg("submission rejected")
			s.sendError(m.Account, m.PairID, err)
		}

	default:
		log.Error().
			Int("message_type", int(clientMessage.message.GetType())).
			Msg("unhandled message")
	}
}

func (s *Server) submit(m SubmitMessage) error {
	pair, err := s.engine.Pair(m.PairID)
	if err != nil {
		return err
	}
	if s.faucet != nil && !s.seen[m.Account] {
		s.seen[m.Account] = true
		s.faucet(m.Account)
	}
	if m.Side() == common.Ask {
		return pair.SubmitAsk(m.Price, m.Account, m.Quantity)
	}
	return pair.SubmitBid(m.Price, m.Account, m.Quantity)
}

func (s *Server) sendError(account common.AccountID, pairID uuid.UUID, cause error) {
	report := Report{
		MessageType: ErrorReport,
		Timestamp:   uint64(time.Now().Unix()),
		PairID:      pairID,
		Err:         cause.Error(),
	}
	if err := s.sendReport(account, &report); err != nil &&
		!errors.Is(err, ErrClientDoesNotExist) {
		log.Error().Err(err).Str("account", string(account)).
			Msg("unable to send error report")
	}
}

func (s *Server) sendReport(account common.AccountID, report *Report) error {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	client, ok := s.sessions[account]
	if !ok {
		return ErrClientDoesNotExist
	}

	if _, err := client.conn.Write(report.Serialize()); err != nil {
		delete(s.sessions, account)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// handleConnection is a short-lived worker method which reads the next
// frame off the connection, parses and passes it forward to sessionHandler.
// A read or parse failure leaves the stream unsynced, so the connection is
// dropped; the session map cleans itself up on the next failed write.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	if err := conn.SetReadDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().
			Str("address", conn.RemoteAddr().String()).
			Err(err).
			Msg("failed setting deadline for connection")
		return nil
	}

	select {
	case <-t.Dying():
		return nil
	default:
		message, err := readMessage(conn)
		if err != nil {
			log.Info().
				Err(err).
				Str("address", conn.RemoteAddr().String()).
				Msg("closing client connection")
			if err := conn.Close(); err != nil {
				log.Error().Str("address", conn.RemoteAddr().String()).Err(err).
					Msg("unable to close connection")
			}
			return nil
		}

		// Pass over to the message handling buffer.
		s.clientMessages <- ClientMessage{
			message: message,
			conn:    conn,
		}

		// Push the client connection back to handle the next message.
		s.pool.AddTask(conn)
	}
	return nil
}

// bindSession is an atomic map add keyed by account, refreshed on every
// message so reconnecting clients keep receiving reports.
func (s *Server) bindSession(account common.AccountID, conn net.Conn) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	s.sessions[account] = ClientSession{conn: conn}
}
