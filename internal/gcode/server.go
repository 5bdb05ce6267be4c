// Package gcode implementiert den zeilenbasierten G-Code-Server, über den
// die Bestückungsmaschine die Feeder ansteuert.
package gcode

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	// clientReportInterval ist der Abstand der Verbindungsstatistik im Log
	clientReportInterval = 30 * time.Second

	// sendBufferSize ist die Tiefe der Antwortwarteschlange pro Client
	sendBufferSize = 16
)

// Server nimmt TCP-Verbindungen an und verarbeitet pro Client Zeilen über
// den Dispatcher. Jeder Client bekommt eine Lese- und eine Schreib-Goroutine.
type Server struct {
	dispatcher   *Dispatcher
	clock        clock.Clock
	logger       *zap.Logger
	clientLogger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	clients  map[*client]struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

func NewServer(version string, clk clock.Clock, logger *zap.Logger) *Server {
	clientLogger := logger.Named("client")
	return &Server{
		dispatcher:   NewDispatcher(version, clientLogger),
		clock:        clk,
		logger:       logger,
		clientLogger: clientLogger,
		clients:      make(map[*client]struct{}),
		stopChan:     make(chan struct{}),
	}
}

// RegisterCommand registriert den Handler für ein Kommando
func (s *Server) RegisterCommand(command string, handler Handler) {
	s.dispatcher.RegisterCommand(command, handler)
}

// Dispatcher liefert den Kommandoverteiler des Servers
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Start öffnet den Listener und nimmt Verbindungen an
func (s *Server) Start(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Waiting for connections",
		zap.String("address", listener.Addr().String()))

	s.wg.Add(2)
	go s.acceptLoop()
	go s.reportClients()

	return nil
}

// Stop schliesst den Listener und alle Client-Verbindungen
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	close(s.stopChan)
	s.listener.Close()
	for _, c := range clients {
		s.removeClient(c)
	}
	s.wg.Wait()

	s.logger.Info("GCode server stopped")
}

// ClientCount liefert die Anzahl aktuell verbundener Clients
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Addr liefert die tatsächliche Adresse des Listeners, nil vor Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Accept failed", zap.Error(err))
			continue
		}

		peer := conn.RemoteAddr().String()

		c := &client{
			conn:   conn,
			server: s,
			send:   make(chan string, sendBufferSize),
			peer:   peer,
			logger: s.clientLogger,
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.clients[c] = struct{}{}
		s.mu.Unlock()

		s.logger.Info("New client connected", zap.String("peer", peer))

		s.wg.Add(2)
		go c.writePump()
		go c.readPump()
	}
}

// removeClient nimmt den Client aus der Verwaltung und schliesst die
// Verbindung. Die Warteschlange schliesst ausschliesslich readPump, sonst
// droht ein Send auf einen geschlossenen Kanal. Mehrfachaufrufe sind
// unschädlich.
func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, known := s.clients[c]
	if known {
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if known {
		c.conn.Close()
		s.logger.Info("Closing connection", zap.String("peer", c.peer))
	}
}

// reportClients loggt zyklisch die Anzahl verbundener Clients
func (s *Server) reportClients() {
	defer s.wg.Done()

	ticker := s.clock.Ticker(clientReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.logger.Info("Clients connected", zap.Int("clients", s.ClientCount()))
		}
	}
}

type client struct {
	conn   net.Conn
	server *Server
	send   chan string
	peer   string
	logger *zap.Logger
}

// readPump liest Zeilen vom Client und reicht sie an den Dispatcher weiter.
// Die Antwort geht über die Warteschlange an die Schreib-Goroutine, ein
// Client mit voller Warteschlange wird getrennt.
func (c *client) readPump() {
	defer c.server.wg.Done()
	defer close(c.send)
	defer c.server.removeClient(c)

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		c.logger.Debug("Received line",
			zap.String("peer", c.peer),
			zap.String("line", scanner.Text()))

		reply, ok := c.server.dispatcher.HandleLine(scanner.Text())
		if !ok {
			continue
		}

		select {
		case c.send <- reply:
		default:
			c.logger.Warn("Client send queue full, dropping connection",
				zap.String("peer", c.peer))
			c.conn.Close()
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Error("Read failed",
			zap.String("peer", c.peer),
			zap.Error(err))
	}
}

// writePump schreibt die Antwortzeilen sequentiell auf die Verbindung
func (c *client) writePump() {
	defer c.server.wg.Done()

	for reply := range c.send {
		if _, err := c.conn.Write([]byte(reply + "\n")); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				c.logger.Error("Write failed",
					zap.String("peer", c.peer),
					zap.Error(err))
			}
			c.conn.Close()
			return
		}
	}
}
