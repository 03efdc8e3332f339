package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
)

func main() {
	// Exemplo: injetando o limiter direto no seu webserver (sem proxy),
	// usando presets e o store em memória default.

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api, err := admission.New(admission.PresetAPI().With(admission.Options{
		TrustXForwardedFor: true,
		LegacyHeaders:      true,
	}))
	if err != nil {
		log.Fatalf("admission config error: %v", err)
	}

	login, err := admission.New(admission.PresetAuth())
	if err != nil {
		log.Fatalf("admission config error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", api.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dec, ok := admission.DecisionFromContext(r.Context()); ok {
			log.Printf("remaining for this caller: %d", dec.Remaining)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})))
	mux.Handle("/login", login.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 401 conta contra o limite; 200 devolve o hit (SkipSuccessful)
		if r.URL.Query().Get("pass") != "letmein" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("welcome\n"))
	})))

	h := http.Handler(mux)
	h = admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{Max: 50, MaxPerKey: 5})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("example server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
