package server

import (
	"context"
	"log"
	"sync"

	"github.com/npezzotti/go-callhub/internal/database"
	"github.com/npezzotti/go-callhub/internal/stats"
	"github.com/npezzotti/go-callhub/internal/types"
)

type stopReq struct {
	done chan struct{}
}

// CallServer owns the presence registry and the room directory. All
// client events funnel through a single Run loop, so handlers see a
// consistent view of the in-memory state without further locking.
// State is process-local; running several instances requires an
// external shared store, which is out of scope.
type CallServer struct {
	log            *log.Logger
	db             database.CallHubRepository
	stats          stats.StatsProvider
	presence       *presenceRegistry
	rooms          *roomDirectory
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	eventChan      chan *ClientMessage
	registerChan   chan *Client
	deregisterChan chan *Client
	stop           chan *stopReq
}

func NewCallServer(logger *log.Logger, db database.CallHubRepository, su stats.StatsProvider) (*CallServer, error) {
	cs := &CallServer{
		log:            logger,
		db:             db,
		stats:          su,
		presence:       newPresenceRegistry(),
		rooms:          newRoomDirectory(),
		clients:        make(map[*Client]struct{}),
		eventChan:      make(chan *ClientMessage, 256),
		registerChan:   make(chan *Client),
		deregisterChan: make(chan *Client),
		stop:           make(chan *stopReq),
	}

	for _, metric := range []string{
		"NumActiveClients",
		"NumOnlineUsers",
		"NumActiveCalls",
		"NumSignalsRelayed",
		"NumDeliveryUpdates",
	} {
		su.RegisterMetric(metric)
	}

	return cs, nil
}

func (cs *CallServer) Run() {
	for {
		select {
		case client := <-cs.registerChan:
			cs.log.Printf("adding connection %s for %q", client.id, client.user.Username)
			cs.addClient(client)
		case client := <-cs.deregisterChan:
			cs.log.Printf("removing connection %s for %q", client.id, client.user.Username)
			cs.removeClient(client)
		case msg := <-cs.eventChan:
			cs.dispatch(msg)
		case req := <-cs.stop:
			cs.log.Println("stopping call server")
			cs.shutdownClients()
			close(req.done)
			return
		}
	}
}

// dispatch routes one client event to its handler. Panics are contained
// here so a malformed event cannot take down the process; the sender
// gets a generic error instead.
func (cs *CallServer) dispatch(msg *ClientMessage) {
	defer func() {
		if r := recover(); r != nil {
			cs.log.Printf("panic handling event from user %d: %v", msg.GetUserId(), r)
			if msg.client != nil {
				msg.client.queueMessage(ErrInternalError(msg.Id))
			}
		}
	}()

	switch {
	case msg.Register != nil:
		cs.handleRegister(msg)
	case msg.InitiateCall != nil:
		cs.handleInitiateCall(msg)
	case msg.AcceptCall != nil:
		cs.handleAcceptCall(msg)
	case msg.RejectCall != nil:
		cs.handleRejectCall(msg)
	case msg.EndCall != nil:
		cs.handleEndCall(msg)
	case msg.Signal != nil:
		cs.handleSignal(msg)
	case msg.MarkDelivered != nil:
		cs.handleMarkDelivered(msg)
	case msg.MarkRead != nil:
		cs.handleMarkRead(msg)
	default:
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// handleRegister refreshes the connection's display name. The identity
// itself is bound at handshake time by the API layer, which rejects
// unauthenticated upgrades before a Client exists.
func (cs *CallServer) handleRegister(msg *ClientMessage) {
	if msg.Register.DisplayName != "" {
		msg.client.displayName = msg.Register.DisplayName
	}

	msg.client.queueMessage(NoErrOK(msg.Id, map[string]any{
		"connection_id": msg.client.id,
		"user_id":       msg.client.user.Id,
	}))
}

// RegisterClient hands a freshly upgraded connection to the server
// loop.
func (cs *CallServer) RegisterClient(c *Client) {
	cs.registerChan <- c
}

func (cs *CallServer) DeregisterClient(c *Client) {
	cs.deregisterChan <- c
}

func (cs *CallServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	cs.clients[c] = struct{}{}
	cs.clientsLock.Unlock()

	wasOnline := cs.presence.isOnline(c.user.Id)
	cs.presence.register(c.user.Id, c)

	cs.stats.Incr("NumActiveClients")
	if !wasOnline {
		cs.stats.Incr("NumOnlineUsers")
	}
}

// removeClient tears the connection out of presence and, if this was
// the user's last connection, ends every call the user participates in
// before teardown completes so no orphaned room survives.
func (cs *CallServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	_, known := cs.clients[c]
	delete(cs.clients, c)
	cs.clientsLock.Unlock()

	if !known {
		return
	}

	cs.presence.unregister(c)
	cs.stats.Decr("NumActiveClients")

	for _, room := range cs.rooms.findByParticipant(c.user.Id) {
		room.removeClient(c)
	}

	if !cs.presence.isOnline(c.user.Id) {
		cs.stats.Decr("NumOnlineUsers")
		cs.teardownCallsFor(c.user.Id)
	}
}

// pushToUser queues msg on every live connection of the user and
// reports how many were reached.
func (cs *CallServer) pushToUser(userId int, msg *ServerMessage) int {
	conns := cs.presence.connectionsFor(userId)
	for _, c := range conns {
		c.queueMessage(msg)
	}
	return len(conns)
}

// PushMessage fans a newly stored message out to the receiver's live
// connections. Called by the API layer after the durable write.
func (cs *CallServer) PushMessage(msg types.Message) int {
	return cs.pushToUser(msg.ReceiverId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Message:     &msg,
	})
}

// IsOnline reports whether the user has at least one live connection.
func (cs *CallServer) IsOnline(userId int) bool {
	return cs.presence.isOnline(userId)
}

func (cs *CallServer) shutdownClients() {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	for c := range cs.clients {
		c.stopClient()
	}
}

func (cs *CallServer) Shutdown(ctx context.Context) error {
	req := &stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
