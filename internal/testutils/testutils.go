//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// Product is an artifact served by a Platform.
type Product struct {
	Type   string
	Millis int64
	Data   []byte
}

// Key returns the storage key the Platform assigns to p.
func (p Product) Key() string {
	return fmt.Sprintf("%s/%s/%s_%d.tif",
		p.Type, time.UnixMilli(p.Millis).UTC().Format("2006/01/02"), p.Type, p.Millis)
}

// Event returns the feed frame announcing p.
func (p Product) Event() string {
	return fmt.Sprintf(`{"productType":%q,"time":%d}`, p.Type, p.Millis)
}

// GenerateTestData returns size bytes of a deterministic pattern.
func GenerateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// Platform fakes the radar platform: a websocket feed that announces the
// products once per connection, a lookup endpoint and an artifact store.
type Platform struct {
	Feed *httptest.Server
	API  *httptest.Server

	mu        sync.Mutex
	products  map[string]Product
	order     []Product
	transfers map[string]int
}

// StartPlatform starts the fake platform for products.
func StartPlatform(t *testing.T, products []Product) *Platform {
	t.Helper()

	p := &Platform{
		products:  make(map[string]Product),
		order:     products,
		transfers: make(map[string]int),
	}
	for _, prod := range products {
		p.products[prod.Key()] = prod
	}

	// The client sends the production Origin header.
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	p.Feed = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, prod := range p.order {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(prod.Event())); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(p.Feed.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/downloadProduct", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProductType string `json:"productType"`
			ProductDate int64  `json:"productDate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		key := Product{Type: req.ProductType, Millis: req.ProductDate}.Key()
		if _, ok := p.products[key]; !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"key": key,
			"url": p.API.URL + "/artifacts/" + key,
		})
	})
	mux.HandleFunc("/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/artifacts/")
		prod, ok := p.products[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		p.mu.Lock()
		p.transfers[key]++
		p.mu.Unlock()
		w.Header().Set("Content-Length", strconv.Itoa(len(prod.Data)))
		w.Write(prod.Data)
	})
	p.API = httptest.NewServer(mux)
	t.Cleanup(p.API.Close)

	return p
}

// FeedURL returns the websocket URL of the feed.
func (p *Platform) FeedURL() string {
	return "ws" + strings.TrimPrefix(p.Feed.URL, "http")
}

// LookupURL returns the lookup endpoint.
func (p *Platform) LookupURL() string {
	return p.API.URL + "/downloadProduct"
}

// Transfers returns how often the artifact with key was downloaded.
func (p *Platform) Transfers(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transfers[key]
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens a gocloud bucket connection to the Minio environment.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// StartMinioContainer starts a Minio container with a pre-created bucket
// and points the AWS credential variables at it.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	// minio and mc talk over a private network.
	networkName := fmt.Sprintf("radar-minio-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name: networkName,
		},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Networks:     []string{networkName},
			NetworkAliases: map[string][]string{
				networkName: {"minio"},
			},
			Env: map[string]string{
				"MINIO_ROOT_USER":     accessKey,
				"MINIO_ROOT_PASSWORD": secretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	createBucket(t, ctx, networkName, accessKey, secretKey, bucketName)

	host, err := minioContainer.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := minioContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}
	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: minioContainer,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
			bucketName, endpoint),
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}

// createBucket runs a one-shot minio/mc container that creates the bucket.
func createBucket(t *testing.T, ctx context.Context, networkName, accessKey, secretKey, bucketName string) {
	t.Helper()

	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{networkName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd: []string{
				fmt.Sprintf("/usr/bin/mc alias set radar http://minio:9000 %s %s && /usr/bin/mc mb radar/%s; exit 0",
					accessKey, secretKey, bucketName),
			},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mc.Terminate(ctx)
}
