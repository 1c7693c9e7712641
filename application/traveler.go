package application

import (
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
)

// logTraveler stands in for the game client: it records travel requests in the log.
type logTraveler struct {
	log.Binder

	servers []string
	clients []string
}

func (t *logTraveler) ServerTravel(url string) bool {
	t.servers = append(t.servers, url)
	t.Logger().Info("server travel", zap.String("url", url))
	return true
}

func (t *logTraveler) ClientTravel(address string) {
	t.clients = append(t.clients, address)
	t.Logger().Info("client travel", zap.String("address", address))
}
