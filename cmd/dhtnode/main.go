package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noisenet/routing/config"
	"github.com/noisenet/routing/crypto"
	"github.com/noisenet/routing/log"
	"github.com/noisenet/routing/protocol"
	"github.com/noisenet/routing/skademlia"
	"github.com/noisenet/routing/skademlia/peer"
)

const (
	dialTimeout = 10 * time.Second
	livePort    = 5483
)

func dialTCP(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, dialTimeout)
}

func main() {
	configPath := flag.String("config", config.DefaultFileName, "path to the binary config record")
	listenAddr := flag.String("listen", "127.0.0.1:0", "address to listen on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config, aborting startup")
	}

	// An ed25519 private key carries its public half in the trailing 32
	// bytes.
	if len(cfg.PrivateKey) < 32 {
		log.Fatal().Msg("config private key too short")
	}
	kp := &crypto.KeyPair{
		PublicKey:  cfg.PrivateKey[len(cfg.PrivateKey)-32:],
		PrivateKey: cfg.PrivateKey,
	}
	ia, err := skademlia.NewIdentityFromKeypair(kp, skademlia.DefaultC1, skademlia.DefaultC2)
	if err != nil {
		log.Fatal().Err(err).Msg("config keypair does not solve the identity puzzle")
	}

	selfID, err := peer.FromBytes(ia.NodeID())
	if err != nil || !selfID.Equals(cfg.NodeID) {
		log.Fatal().Msg("config node id does not match its keypair")
	}

	listener, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot listen")
	}

	controller := protocol.NewController()
	node := protocol.NewNode(controller, ia)

	adapter, err := skademlia.NewConnectionAdapter(listener, dialTCP, node, listener.Addr().String())
	if err != nil {
		log.Fatal().Err(err).Msg("cannot build connection adapter")
	}

	store := config.NewStore(*configPath, cfg)
	adapter.Processor.Routes.InitialiseFunctors(
		func(size int) {
			log.Info().Int("size", size).Msg("routing table size changed")
		},
		func(info peer.Info, routingOnly bool) {
			if !routingOnly {
				adapter.Network.Remove(info.ConnectionID)
			}
		},
		func(group []peer.ID) {
			log.Debug().Int("group", len(group)).Msg("close group changed")
			store.SetContacts(adapter.KnownContacts())
		},
		func(furthest peer.ID) {
			log.Debug().Str("peer", furthest.String()).Msg("furthest peer flagged for removal")
		},
	)

	node.Start()

	if err := adapter.Bootstrap(config.OrderBootstrapList(cfg.Contacts, livePort)...); err != nil {
		log.Warn().Err(err).Msg("bootstrap incomplete")
	}

	log.Info().
		Str("address", listener.Addr().String()).
		Str("node", selfID.String()).
		Msg("dht node up")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	controller.Cancel()
	listener.Close()
	node.Stop()
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("final config write failed")
	}
}
