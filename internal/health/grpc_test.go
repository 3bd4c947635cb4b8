package health

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ashureev/learnitall/internal/api"
)

func startServer(t *testing.T, checks ...api.Check) (*Server, healthpb.HealthClient) {
	t.Helper()
	srv := NewServer(api.NewHealthHandler(time.Second, checks...), time.Hour, nil)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestServer_NotServingUntilRefreshed(t *testing.T) {
	ok := api.PingFunc(func(context.Context) error { return nil })
	_, client := startServer(t, api.Check{Name: "database", Pinger: ok, Required: true})

	if got := status(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}
}

func TestServer_Refresh(t *testing.T) {
	ok := api.PingFunc(func(context.Context) error { return nil })
	down := api.PingFunc(func(context.Context) error { return errors.New("refused") })

	srv, client := startServer(t,
		api.Check{Name: "database", Pinger: ok, Required: true},
		api.Check{Name: "ollama", Pinger: down},
	)
	srv.Refresh(context.Background())

	if got := status(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall = %v, want SERVING", got)
	}
	if got := status(t, client, "database"); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("database = %v, want SERVING", got)
	}
	if got := status(t, client, "ollama"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("ollama = %v, want NOT_SERVING", got)
	}
}

func TestServer_RequiredFailure(t *testing.T) {
	down := api.PingFunc(func(context.Context) error { return errors.New("locked") })
	srv, client := startServer(t, api.Check{Name: "database", Pinger: down, Required: true})
	srv.Refresh(context.Background())

	if got := status(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall = %v, want NOT_SERVING", got)
	}
}
