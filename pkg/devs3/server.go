// Package devs3 runs a small S3-compatible endpoint persisted in bbolt. It
// stands in for MinIO during local development and in tests of the S3
// storage clients.
package devs3

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/johannesboyne/gofakes3"

	"github.com/jacktea/sumgate/pkg/server/middleware"
	"github.com/jacktea/sumgate/pkg/storage"
)

// Options configure the endpoint.
type Options struct {
	// Buckets are created on startup if missing.
	Buckets   []string
	RateLimit middleware.RateLimitOptions
}

// Server exposes DB over the S3 REST API.
type Server struct {
	DB  *storage.Bolt
	Log logr.Logger
	Opt Options

	handlerOnce sync.Once
	handler     http.Handler
}

// CreateBuckets makes every configured bucket that does not yet exist.
func (s *Server) CreateBuckets() error {
	backend := NewBackend(s.DB)
	for _, name := range s.Opt.Buckets {
		ok, err := backend.BucketExists(name)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := backend.CreateBucket(name); err != nil {
			return err
		}
	}
	return nil
}

// Start listens on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	if err := s.CreateBuckets(); err != nil {
		return err
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if s.Log.GetSink() != nil {
		s.Log.Info("serving s3", "address", lis.Addr().String(), "buckets", s.Opt.Buckets)
	}
	if err := srv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpHandler().ServeHTTP(w, r)
}

func (s *Server) httpHandler() http.Handler {
	s.handlerOnce.Do(func() {
		s3 := gofakes3.New(NewBackend(s.DB)).Server()
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ensureContentLength(r)
			s3.ServeHTTP(w, r)
		})
		s.handler = middleware.Wrap(handler, middleware.RateLimit(s.Opt.RateLimit))
	})
	return s.handler
}

func ensureContentLength(r *http.Request) {
	if r.Header.Get("Content-Length") != "" || r.ContentLength < 0 {
		return
	}
	r.Header.Set("Content-Length", strconv.FormatInt(r.ContentLength, 10))
}
