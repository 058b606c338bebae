package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/tomaslejdung/rovlink/pkg/server"
	"github.com/tomaslejdung/rovlink/pkg/session"
	"github.com/tomaslejdung/rovlink/pkg/transport"
)

func main() {
	port := flag.Int("port", 8080, "Server port")
	stun := flag.Bool("stun", true, "Gather server-reflexive candidates with the default STUN servers")
	loopback := flag.Bool("loopback", false, "Include loopback ICE candidates")
	flag.Parse()

	// Check for PORT env var (for cloud deployments)
	listenPort, err := resolvePort(*port, os.Getenv("PORT"))
	if err != nil {
		log.Fatalf("invalid PORT: %v", err)
	}

	var ice transport.ICEConfig
	if *stun {
		ice.STUNServers = session.DefaultSTUNServers()
	}

	var opts []server.Option
	if *loopback {
		opts = append(opts, server.WithAPI(transport.LoopbackAPI()))
	}

	srv := server.NewServer(server.HandlerFuncs{
		Command: func(x, y float64) {
			log.Infof("command x=%v y=%v", x, y)
		},
		Toggle: func() {
			log.Info("toggle_commands")
		},
	}, ice.Configuration(), opts...)

	addr := fmt.Sprintf(":%d", listenPort)
	if err := srv.StartServer(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// resolvePort returns the PORT env value when set, else the flag value
func resolvePort(flagPort int, env string) (int, error) {
	if env == "" {
		return flagPort, nil
	}
	port, err := strconv.Atoi(env)
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
