package bootstrap

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/Domenick1991/courtbooking/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestOpenStore_Memory(t *testing.T) {
	no := false
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "memory"},
		Games: []config.GameConfig{
			{ID: "futsal", CourtID: "court-1", Name: "Futsal", PricePerHourCents: 3000},
			{ID: "cricket", CourtID: "court-1", Name: "Cricket", Available: &no},
		},
	}

	store, err := OpenStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	game, err := store.Repos.Games.GetByID(context.Background(), "futsal")
	require.NoError(t, err)
	assert.True(t, game.IsAvailable)
	assert.Equal(t, int64(3000), game.PricePerHourCents)

	game, err = store.Repos.Games.GetByID(context.Background(), "cricket")
	require.NoError(t, err)
	assert.False(t, game.IsAvailable)
	assert.Nil(t, store.Ping)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), &config.Config{Database: config.DatabaseConfig{Driver: "sqlite"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	cfg := &config.Config{
		HTTP: config.HTTPConfig{Address: freeAddr(t)},
		GRPC: config.GRPCConfig{Address: freeAddr(t)},
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, handler, nil, zap.NewNop()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.HTTP.Address + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 3*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(cfg.GRPC.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	hctx, hcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer hcancel()
	resp, err := healthpb.NewHealthClient(conn).Check(hctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("servers did not stop")
	}
}
