package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/miniroha/miniroha/consensus/bft"
)

// deliverer is the server-side contract the hand-rolled service
// descriptor below dispatches to. Node implements it directly; there
// is no protoc-generated stub because the codec registered in
// codec.go marshals bft.Envelope as JSON under the "proto" name.
type deliverer interface {
	Deliver(ctx context.Context, req *bft.Envelope) (*ackMsg, error)
}

type ackMsg struct{}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(bft.Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(deliverer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/miniroha.bft.Transport/Deliver"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(deliverer).Deliver(ctx, req.(*bft.Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "miniroha.bft.Transport",
	HandlerType: (*deliverer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "transport/grpc.go",
}

// peerConn is a live connection to one other validator.
type peerConn struct {
	id   string
	addr string
	conn *grpc.ClientConn
}

// Node is the gRPC transport for one validator: it serves incoming
// bft.Envelope deliveries and broadcasts outgoing ones to every known
// peer, grounded in the reference engine's peer-map-plus-callback
// transport shape but collapsed to gRPC's single Deliver RPC instead
// of separate broadcast/send/stream methods.
type Node struct {
	mu sync.RWMutex

	nodeID  string
	address string

	server   *grpc.Server
	listener net.Listener

	peers   map[string]*peerConn
	handler func(bft.Envelope)

	logger  *log.Logger
	running bool
}

// NewNode builds a transport bound to address, delivering received
// envelopes to handler.
func NewNode(nodeID, address string, handler func(bft.Envelope)) *Node {
	return &Node{
		nodeID:  nodeID,
		address: address,
		peers:   make(map[string]*peerConn),
		handler: handler,
		logger:  log.Default(),
	}
}

// Start begins serving incoming envelopes.
func (n *Node) Start() error {
	listener, err := net.Listen("tcp", n.address)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", n.address, err)
	}
	n.listener = listener

	n.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(64*1024*1024),
		grpc.MaxSendMsgSize(64*1024*1024),
	)
	n.server.RegisterService(&serviceDesc, n)

	n.mu.Lock()
	n.running = true
	n.mu.Unlock()

	go func() {
		if err := n.server.Serve(listener); err != nil {
			n.mu.RLock()
			running := n.running
			n.mu.RUnlock()
			if running {
				n.logger.Printf("[transport] server error: %v", err)
			}
		}
	}()

	n.logger.Printf("[transport] %s listening on %s", n.nodeID, n.address)
	return nil
}

// Stop closes the server and every peer connection.
func (n *Node) Stop() {
	n.mu.Lock()
	n.running = false
	peers := n.peers
	n.peers = make(map[string]*peerConn)
	n.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
	if n.server != nil {
		n.server.GracefulStop()
	}
}

// AddPeer dials a remote validator's transport.
func (n *Node) AddPeer(nodeID, address string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return fmt.Errorf("transport: dial peer %s at %s: %w", nodeID, address, err)
	}

	n.mu.Lock()
	n.peers[nodeID] = &peerConn{id: nodeID, addr: address, conn: conn}
	n.mu.Unlock()

	n.logger.Printf("[transport] %s connected to peer %s at %s", n.nodeID, nodeID, address)
	return nil
}

// RemovePeer disconnects from a peer.
func (n *Node) RemovePeer(nodeID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[nodeID]; ok {
		p.conn.Close()
		delete(n.peers, nodeID)
	}
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// Broadcast delivers env to every connected peer concurrently,
// implementing bft.Transport.
func (n *Node) Broadcast(env bft.Envelope) error {
	n.mu.RLock()
	peers := make([]*peerConn, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var lastErr error

	for _, p := range peers {
		wg.Add(1)
		go func(p *peerConn) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			var ack ackMsg
			if err := p.conn.Invoke(ctx, "/miniroha.bft.Transport/Deliver", &env, &ack); err != nil {
				errMu.Lock()
				lastErr = err
				errMu.Unlock()
				n.logger.Printf("[transport] deliver to %s failed: %v", p.id, err)
			}
		}(p)
	}
	wg.Wait()
	return lastErr
}

// Deliver is the server-side RPC handler invoked by peers' Broadcast.
func (n *Node) Deliver(ctx context.Context, req *bft.Envelope) (*ackMsg, error) {
	if n.handler != nil && req != nil {
		n.handler(*req)
	}
	return &ackMsg{}, nil
}

var _ bft.Transport = (*Node)(nil)
