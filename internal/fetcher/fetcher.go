package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	radarhttp "github.com/glascaleia/DPC-Radar-data-downloader/internal/http"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/progress"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/queue"
)

// PartSuffix is appended to the destination name while a transfer runs.
const PartSuffix = ".part"

// DefaultChunkSize is the buffer size used when streaming artifacts.
const DefaultChunkSize = 1024 * 1024

// ErrMalformedResponse is returned when the lookup answer lacks the key or
// the source URL.
var ErrMalformedResponse = errors.New("fetcher: malformed lookup response")

// Uploader mirrors a finished file. *mirror.Mirror implements it.
type Uploader interface {
	Upload(ctx context.Context, key, localPath string) (bool, error)
}

// Options configures a Fetcher.
type Options struct {
	// Endpoint is the lookup URL that resolves a product to a storage key
	// and a source URL.
	Endpoint string

	// OutputDir is the root all artifacts are written under.
	OutputDir string

	// ChunkSize is the read buffer size for transfers.
	// Default: 1MiB
	ChunkSize int64

	// Lookup configures the client used for lookup calls. Its Timeout
	// bounds the whole call.
	Lookup radarhttp.Options

	// Transfer configures the client used for artifact downloads. Its
	// ReadTimeout bounds each wait for more bytes.
	Transfer radarhttp.Options

	// Mirror is optional.
	Mirror Uploader

	Progress *progress.Reporter
	Logger   *slog.Logger
}

// Result describes a processed job.
type Result struct {
	Key     string // normalized relative path
	Path    string // absolute destination
	Bytes   int64  // bytes transferred; zero when skipped
	Skipped bool   // destination already existed
}

// Fetcher resolves and downloads jobs. It is safe for concurrent use.
type Fetcher struct {
	opts     Options
	lookup   *radarhttp.Client
	transfer *radarhttp.Client
	logger   *slog.Logger
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		opts:     opts,
		lookup:   radarhttp.NewClient(opts.Lookup),
		transfer: radarhttp.NewClient(opts.Transfer),
		logger:   logger,
	}
}

type lookupRequest struct {
	ProductType string `json:"productType"`
	ProductDate int64  `json:"productDate"`
}

type lookupResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Fetch processes one job. Errors are scoped to the job.
func (f *Fetcher) Fetch(ctx context.Context, job queue.Job) (Result, error) {
	var resolved lookupResponse
	req := lookupRequest{ProductType: job.ProductType, ProductDate: job.TimestampMillis}
	if err := f.lookup.PostJSON(ctx, f.opts.Endpoint, req, &resolved); err != nil {
		return Result{}, fmt.Errorf("lookup %s: %w", job.Key(), err)
	}
	if resolved.Key == "" || resolved.URL == "" {
		return Result{}, fmt.Errorf("%w: key=%q url=%q", ErrMalformedResponse, resolved.Key, resolved.URL)
	}

	rel, err := RelativePath(resolved.Key)
	if err != nil {
		return Result{}, err
	}
	dest, err := SafeJoin(f.opts.OutputDir, rel)
	if err != nil {
		return Result{}, err
	}
	res := Result{Key: rel, Path: dest}

	if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		f.logger.Info("skip existing file", "path", dest)
		res.Skipped = true
		f.mirror(ctx, res)
		return res, nil
	}

	f.logger.Info("downloading", "product_type", job.ProductType, "path", dest)
	n, err := f.download(ctx, resolved.URL, dest)
	if err != nil {
		return res, err
	}
	res.Bytes = n
	f.logger.Info("download complete", "path", dest, "size", progress.FormatBytes(n))

	f.mirror(ctx, res)
	return res, nil
}

// download streams url into dest via a ".part" sibling.
func (f *Fetcher) download(ctx context.Context, url, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	body, err := f.transfer.Get(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("get artifact: %w", err)
	}
	defer body.Close()

	tmp := dest + PartSuffix
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}

	n, err := copyChunks(out, body, f.opts.ChunkSize)
	if err != nil {
		out.Close()
		return n, fmt.Errorf("transfer to %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		return n, fmt.Errorf("rename %s: %w", tmp, err)
	}
	return n, nil
}

// copyChunks copies src to dst through a buffer of chunkSize bytes.
func copyChunks(dst io.Writer, src io.Reader, chunkSize int64) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (f *Fetcher) mirror(ctx context.Context, res Result) {
	if f.opts.Mirror == nil {
		return
	}
	uploaded, err := f.opts.Mirror.Upload(ctx, res.Key, res.Path)
	if err != nil {
		f.logger.Warn("mirror upload failed", "error", err, "key", res.Key)
		f.opts.Progress.MirrorFailed()
		return
	}
	if uploaded {
		f.logger.Debug("mirrored", "key", res.Key)
	}
}
