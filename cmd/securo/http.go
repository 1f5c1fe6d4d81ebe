package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"securo/internal/services"
)

// handleHTTPServer configures and starts a HTTP server on the given URL.
// It shuts the server down once ctx is cancelled.
func handleHTTPServer(ctx context.Context, u *url.URL, mounts []services.Mounter, sockets http.Handler, wg *sync.WaitGroup, errc chan error, logger *log.Logger, debug bool) {

	// Setup goa log adapter.
	var (
		adapter middleware.Logger
	)
	{
		adapter = middleware.NewLogger(logger)
	}

	var mux goahttp.Muxer
	{
		mux = goahttp.NewMuxer()
	}

	for _, m := range mounts {
		m.Mount(mux)
	}
	mux.Handle("GET", "/ws/anomalies", sockets.ServeHTTP)

	// Wrap the multiplexer with additional middlewares. Middlewares mounted
	// here apply to all the service endpoints.
	var handler http.Handler = mux
	{
		handler = recoverer(logger)(handler)
		if debug {
			handler = httpmdlwr.Debug(mux, os.Stdout)(handler)
		}
		handler = httpmdlwr.Log(adapter)(handler)
		handler = httpmdlwr.RequestID()(handler)
	}

	// No write timeout: the MJPEG feed and the websocket are long lived.
	srv := &http.Server{Addr: u.Host, Handler: handler, ReadHeaderTimeout: time.Second * 60}
	logger.Printf("HTTP %d services mounted, websocket on GET /ws/anomalies", len(mounts))

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Printf("HTTP server listening on %q", u.Host)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", u.Host)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}

// recoverer turns a handler panic into a 500 and logs it with the request ID
// so that it's possible to correlate.
func recoverer(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					id, _ := r.Context().Value(middleware.RequestIDKey).(string)
					logger.Printf("[%s] ERROR: panic: %v", id, rec)
					http.Error(w, "["+id+"] internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
