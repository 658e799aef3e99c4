package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sms-auth-service/internal/config"
	"sms-auth-service/internal/factory"
	"sms-auth-service/internal/handler"
	"sms-auth-service/internal/util"
)

func main() {
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := setupRouter(f)

	var serverAddr string
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	} else {
		serverAddr = cfg.GetServerAddress()
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.EnableTLS {
		server.TLSConfig = f.TLSManager().GetTLSConfig()

		if cfg.IsProduction() && cfg.Server.AutoCert {
			startProductionServerWithAutoCert(f, server, cfg, router)
			return
		}

		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	startServer(f, server, cfg)
}

func setupRouter(f *factory.Factory) http.Handler {
	authService := f.AuthService()
	guard := handler.NewAccessGuard(f.TokenGenerator(), authService)
	authHandler := handler.NewAuthHandler(authService, guard)
	return handler.NewRouter(authHandler, f.Config(), util.Get())
}

func startProductionServerWithAutoCert(f *factory.Factory, server *http.Server, cfg *config.Config, router http.Handler) {
	autoCertManager := f.TLSManager().GetAutocertManager()
	if autoCertManager == nil {
		util.Fatal("AutoCert manager is not available in production")
	}

	// Port 80 serves the ACME challenge only.
	httpServer := &http.Server{
		Addr:    ":80",
		Handler: autoCertManager.HTTPHandler(nil),
	}

	httpsServer := &http.Server{
		Addr:      ":443",
		Handler:   router,
		TLSConfig: server.TLSConfig,
	}

	go func() {
		util.Info("Starting HTTP challenge server on port 80")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Error("HTTP challenge server failed", util.ErrorField(err))
		}
	}()

	go func() {
		util.Info("Starting HTTPS server with AutoCert on port 443",
			util.String("domain", cfg.Server.Domain),
		)
		if err := httpsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			util.Error("HTTPS AutoCert server failed", util.ErrorField(err))
		}
	}()

	waitForShutdown(f, httpsServer, httpServer)
}

func startServer(f *factory.Factory, server *http.Server, cfg *config.Config) {
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
				err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
			} else {
				err = server.ListenAndServeTLS("", "")
			}
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	waitForShutdown(f, server, nil)
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
			}
		}
	}
	f.Close()
}
