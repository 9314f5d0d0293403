package main

import (
	"database/sql/driver"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	u "github.com/araddon/gou"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/araddon/sqlgrid/datasource/membtree"
	"github.com/araddon/sqlgrid/exchange"
	"github.com/araddon/sqlgrid/exec"
	"github.com/araddon/sqlgrid/schema"
)

var (
	nodeName string
	bindAddr string
	logging  string
	seedDemo bool
)

func init() {
	flag.StringVar(&nodeName, "name", "node1", "node name, unique per cluster")
	flag.StringVar(&bindAddr, "addr", "127.0.0.1:8280", "bind address for task/exchange api")
	flag.StringVar(&logging, "logging", "info", "logging [ debug,info,warn ]")
	flag.BoolVar(&seedDemo, "seed", false, "seed a demo users table")
	flag.Parse()

	u.SetupLogging(logging)
	u.SetColorOutput()
}

func main() {

	store := membtree.NewStore()
	if seedDemo {
		seed(store)
	}

	reg := prometheus.NewRegistry()
	metrics := exec.NewMetrics(reg)

	loc := schema.Location{Name: nodeName, Addr: bindAddr}
	srv := exchange.NewServer(loc, store, metrics)
	defer srv.Stop()

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	hs := &http.Server{Addr: bindAddr, Handler: mux}
	go func() {
		u.Infof("%s listening on %s", nodeName, bindAddr)
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			u.Errorf("server: %v", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	u.Infof("%s shutting down", nodeName)
	hs.Close()
}

func seed(store *membtree.Store) {
	tbl := store.CreateTable(schema.NewTable("users", "user_id", []string{"user_id", "name", "email"}))
	rows := [][]driver.Value{
		{int64(1), "aaron", "aaron@email.com"},
		{int64(2), "bob", "bob@email.com"},
		{int64(3), "carol", "carol@email.com"},
	}
	for _, vals := range rows {
		if err := tbl.Put(vals); err != nil {
			u.Errorf("seed: %v", err)
		}
	}
	u.Debugf("seeded users table rows=%d", tbl.Len())
}
