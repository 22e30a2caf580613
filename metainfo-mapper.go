// Command metainfo-mapper serves the drone-imagery GPS mapping backend:
// it ingests per-image tag payloads, keeps the session dataset, selects
// the basemap provider, and renders KML exports plus HTML reports.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/acme/autocert"

	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/api"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/basemap"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/mapconfig"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/session"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/store"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/tagjson"
)

// CompileVersion is stamped by the build; "dev" otherwise.
var CompileVersion = "dev"

var domain = flag.String("domain", "", "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
var dbType = flag.String("db-type", "sqlite", "Type of the database driver: genji, sqlite, chai, duckdb, or pgx (postgresql)")
var dbPath = flag.String("db-path", "", "Path to the database file (defaults to the current folder, applicable for file-based drivers)")
var dbConn = flag.String("db-conn", "", "Raw database DSN (applicable for pgx driver)")
var dbHost = flag.String("db-host", "127.0.0.1", "Database host (applicable for pgx driver)")
var dbPort = flag.Int("db-port", 5432, "Database port (applicable for pgx driver)")
var dbUser = flag.String("db-user", "postgres", "Database user (applicable for pgx driver)")
var dbPass = flag.String("db-pass", "", "Database password (applicable for pgx driver)")
var dbName = flag.String("db-name", "MetainfoMapper", "Database name (applicable for pgx driver)")
var pgSSLMode = flag.String("pg-ssl-mode", "prefer", "PostgreSQL SSL mode: disable, allow, prefer, require, verify-ca, or verify-full")
var port = flag.Int("port", 8765, "Port for running the server")
var bufferFeet = flag.Float64("buffer-feet", 2000, "Default bounds buffer in feet")
var mapConfigPath = flag.String("map-config", "", "Path to the basemap YAML config")
var version = flag.Bool("version", false, "Show the application version")

// withServerHeader wraps any http.Handler, adding a Server header. A HEAD
// request to "/" answers 200 with no body so monitors can probe liveness.
func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "metainfo-mapper/"+CompileVersion)

		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// serveWithDomain runs:
//   - :80  — ACME HTTP-01 challenge + permanent redirect to https.
//   - :443 — HTTPS with automatic Let's Encrypt certificates.
//
// When autocert cannot issue a certificate for a host or SNI, the server
// falls back to a previously obtained certificate instead of failing the
// handshake. All serving errors are logged, never fatal.
func serveWithDomain(domain string, handler http.Handler) {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(ctx context.Context, host string) error {
			if host == domain || host == "www."+domain {
				return nil
			}
			// Plain IP access is allowed, we just don't request a cert.
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	go func() {
		mux80 := http.NewServeMux()
		mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
		mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			target := "https://" + domain + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})

		log.Printf("HTTP  server (ACME+redirect) ➜ :80")
		if err := (&http.Server{
			Addr:              ":80",
			Handler:           mux80,
			ReadHeaderTimeout: 10 * time.Second,
		}).ListenAndServe(); err != nil {
			log.Printf("HTTP  server error: %v", err)
		}
	}()

	// Daily renewal probe keeps the certificate warm.
	go func() {
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		for range t.C {
			if _, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err != nil {
				log.Printf("autocert renewal check: %v", err)
			}
		}
	}()

	tlsCfg := certMgr.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS12

	var defaultCert *tls.Certificate
	go func() {
		for defaultCert == nil {
			if c, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err == nil {
				defaultCert = c
			}
			time.Sleep(time.Minute)
		}
	}()
	tlsCfg.GetCertificate = func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := certMgr.GetCertificate(chi)
		if err == nil {
			return c, nil
		}
		if defaultCert != nil {
			return defaultCert, nil
		}
		return nil, err
	}

	log.Printf("HTTPS server for %s ➜ :443", domain)
	if err := (&http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}).ListenAndServeTLS("", ""); err != nil {
		log.Printf("HTTPS server error: %v", err)
	}
}

func main() {
	// .env lets operators keep MAPBOX_TOKEN and friends out of unit files.
	_ = godotenv.Load()
	flag.Parse()

	if *version {
		fmt.Printf("metainfo-mapper version %s\n", CompileVersion)
		return
	}

	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("⚠  Binding to :80 / :443 requires super-user rights; run with sudo or as root.")
	}

	st, err := store.Open(store.Config{
		DBType:    *dbType,
		DBPath:    *dbPath,
		DBConn:    *dbConn,
		DBHost:    *dbHost,
		DBPort:    *dbPort,
		DBUser:    *dbUser,
		DBPass:    *dbPass,
		DBName:    *dbName,
		PGSSLMode: *pgSSLMode,
		Port:      *port,
	}, log.Printf)
	if err != nil {
		log.Fatalf("store init: %v", err)
	}
	defer st.Close()

	mapCfg, err := mapconfig.Load(*mapConfigPath)
	if err != nil {
		log.Fatalf("map config: %v", err)
	}

	selector := basemap.NewSelector(basemap.Config{
		OfflineConfigured: mapCfg.OfflineConfigured(),
		ServerToken:       mapCfg.ServerToken(),
	})

	// Re-apply the user's token from the last run, if any.
	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if token, ok, err := st.Get(ctx, store.KeyMapboxToken); err != nil {
			log.Printf("load saved token: %v", err)
		} else if ok && token != "" {
			selector.SetToken(token)
		}
		cancel()
	}

	handler := &api.Handler{
		Session:    session.NewManager(),
		Basemap:    selector,
		Store:      st,
		MapConfig:  mapCfg,
		Extract:    tagjson.Extractor{},
		BufferFeet: *bufferFeet,
		Logf:       log.Printf,
	}

	mux := http.NewServeMux()
	handler.Register(mux)
	rootHandler := withServerHeader(mux)

	if *domain != "" {
		go serveWithDomain(*domain, rootHandler)
	} else {
		addr := fmt.Sprintf(":%d", *port)
		go func() {
			log.Printf("HTTP server ➜ http://localhost%s", addr)
			if err := http.ListenAndServe(addr, rootHandler); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	select {}
}
