package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"idleforge/internal/persistence/indexdb"
	persistlog "idleforge/internal/persistence/log"
	"idleforge/internal/persistence/snapshot"
	"idleforge/internal/protocol"
	"idleforge/internal/sim/catalogs"
	"idleforge/internal/sim/economy"
	"idleforge/internal/sim/events"
	"idleforge/internal/sim/offline"
	"idleforge/internal/sim/tuning"
	"idleforge/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		saveID     = flag.String("save", "default", "save id the server runs live")
		seed       = flag.Int64("seed", 1337, "rng seed (used only when starting a fresh save)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	saveDir := filepath.Join(*dataDir, "saves", *saveID)
	_ = os.MkdirAll(saveDir, 0o755)
	store := snapshot.NewStore(saveDir, tune.Saves.BackupCount, logger)

	// Optional read-model index (never on the sim path).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.Open(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	tickLog := persistlog.NewTickLogger(saveDir)
	grantLog := persistlog.NewGrantLogger(saveDir)
	defer tickLog.Close()
	defer grantLog.Close()

	bus := events.NewBus()
	eng := economy.New(economy.Config{
		Catalogs: cats,
		Tuning:   tune,
		Logger:   logger,
		Bus:      bus,
		Seed:     *seed,
	})

	if store.Exists() {
		st, hdr, err := store.Load()
		if err != nil {
			logger.Fatalf("load save: %v", err)
		}
		eng.Import(st)
		logger.Printf("resumed save=%s saved_at=%d checksum=%s", *saveID, hdr.SavedAt, hdr.Checksum)

		// Credit production for the downtime gap, same rules as a client
		// welcome-back.
		now := time.Now().UnixMilli()
		if res, ok := offline.Compute(cats, tune, st, hdr.SavedAt, now, logger); ok {
			offline.ApplyTo(eng, res)
			gid := uuid.NewString()
			recordGrant(idx, grantLog, gid, *saveID, now, now-hdr.SavedAt, res)
			logger.Printf("offline grant on resume: id=%s effective_ms=%d", gid, res.EffectiveElapsedMs)
		}
	}

	hub := ws.NewHub(logger)
	busSub := bus.Subscribe(events.AllKinds(), func(ev events.Event) {
		hub.Broadcast(eventToMsg(ev))
	})
	defer busSub.Close()

	rt := economy.NewRuntime(eng, logger)
	rt.OnAutosave = func(e *economy.Engine) {
		saveEngine(e, store, idx, *saveID, logger)
	}
	rt.OnTick = func(e *economy.Engine, deltaMs int64) {
		_ = tickLog.WriteTick(persistlog.TickEntry{
			AtMs:    time.Now().UnixMilli(),
			DeltaMs: deltaMs,
		})
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("runtime stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(ctx, rw, rt, hub, *saveID)
	})
	mux.HandleFunc("/v1/offline", offlineHandler(offlineDeps{
		liveSaveID: *saveID,
		dataDir:    *dataDir,
		cats:       cats,
		tune:       tune,
		rt:         rt,
		store:      store,
		idx:        idx,
		grantLog:   grantLog,
		logger:     logger,
	}))
	mux.HandleFunc("/v1/ws", ws.NewServer(hub, logger).Handler())

	if envBool("IF_ENABLE_ADMIN_HTTP", true) {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			stateHandler(rw, r, rt)
		})
		mux.HandleFunc("/admin/v1/save", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			err := rt.Do(ctx2, func(e *economy.Engine) {
				saveEngine(e, store, idx, *saveID, logger)
			})
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true})
		})
	} else {
		logger.Printf("admin endpoints disabled (IF_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("IF_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Final save before shutdown.
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = rt.Do(ctx2, func(e *economy.Engine) {
			saveEngine(e, store, idx, *saveID, logger)
		})
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func saveEngine(e *economy.Engine, store *snapshot.Store, idx *indexdb.SQLiteIndex, saveID string, logger *log.Logger) {
	now := time.Now().UnixMilli()
	e.FlushAccumulators()
	st := e.Export()
	if err := store.Save(st, now); err != nil {
		logger.Printf("save: %v", err)
		return
	}
	if idx != nil {
		stats := e.Stats()
		idx.RecordSave(indexdb.SaveRow{
			SaveID:     saveID,
			Version:    snapshot.CurrentVersion,
			SavedAtMs:  now,
			Checksum:   checksumOf(st, now),
			PlaytimeMs: stats.PlaytimeMs,
			Prestige:   e.Prestige(),
			Resources:  len(st.Resources),
			Buildings:  len(st.Buildings),
		})
	}
}

func checksumOf(st snapshot.StateV1, savedAtMs int64) string {
	raw, err := snapshot.Encode(st, savedAtMs)
	if err != nil {
		return ""
	}
	hdr, _, ok := strings.Cut(string(raw), "\n")
	if !ok {
		return ""
	}
	var h snapshot.Header
	if err := json.Unmarshal([]byte(hdr), &h); err != nil {
		return ""
	}
	return h.Checksum
}

func recordGrant(idx *indexdb.SQLiteIndex, grantLog *persistlog.GrantLogger, grantID, saveID string, nowMs, elapsedMs int64, res offline.Result) {
	gained := make(map[string]float64, len(res.Gained))
	for _, g := range res.Gained {
		gained[g.Resource] = g.Amount
	}
	if idx != nil {
		idx.RecordGrant(indexdb.GrantRow{
			GrantID:       grantID,
			SaveID:        saveID,
			RequestedAtMs: nowMs,
			ElapsedMs:     elapsedMs,
			EffectiveMs:   res.EffectiveElapsedMs,
			Efficiency:    res.EfficiencyApplied,
			Gained:        gained,
		})
	}
	_ = grantLog.WriteGrant(persistlog.GrantEntry{
		GrantID:     grantID,
		SaveID:      saveID,
		AtMs:        nowMs,
		ElapsedMs:   elapsedMs,
		EffectiveMs: res.EffectiveElapsedMs,
		Efficiency:  res.EfficiencyApplied,
		Gained:      gained,
	})
}

func eventToMsg(ev events.Event) protocol.EventMsg {
	return protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Kind:            string(ev.Kind),
		BuildingID:      ev.BuildingID,
		ResourceID:      ev.ResourceID,
		StackID:         ev.StackID,
		Count:           ev.Count,
		Delta:           ev.Delta,
		Amount:          ev.Amount,
		SourceTag:       ev.SourceTag,
	}
}

func stateHandler(rw http.ResponseWriter, r *http.Request, rt *economy.Runtime) {
	type resourceLine struct {
		ID       string  `json:"id"`
		Amount   float64 `json:"amount"`
		Lifetime float64 `json:"lifetime"`
		Rate     float64 `json:"rate_per_sec"`
	}
	var (
		era      string
		prestige int
		stats    economy.Stats
		lines    []resourceLine
	)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	err := rt.Do(ctx, func(e *economy.Engine) {
		era = e.Era()
		prestige = e.Prestige()
		stats = e.Stats()
		rates := e.Rates()
		ids := make([]string, 0, len(rates))
		for id := range rates {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			res, _ := e.ResourceState(id)
			lines = append(lines, resourceLine{ID: id, Amount: res.Amount, Lifetime: res.Lifetime, Rate: rates[id]})
		}
	})
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{
		"era":       era,
		"prestige":  prestige,
		"stats":     stats,
		"resources": lines,
	})
}

func writeMetrics(ctx context.Context, rw http.ResponseWriter, rt *economy.Runtime, hub *ws.Hub, saveID string) {
	var (
		stats economy.Stats
		rates map[string]float64
	)
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rt.Do(ctx2, func(e *economy.Engine) {
		stats = e.Stats()
		rates = e.Rates()
	}); err != nil {
		return
	}

	fmt.Fprintf(rw, "# HELP idleforge_ticks_total Total processed ticks.\n")
	fmt.Fprintf(rw, "# TYPE idleforge_ticks_total counter\n")
	fmt.Fprintf(rw, "idleforge_ticks_total{save=%q} %d\n", saveID, stats.TotalTicks)

	fmt.Fprintf(rw, "# HELP idleforge_playtime_ms Accumulated simulated playtime.\n")
	fmt.Fprintf(rw, "# TYPE idleforge_playtime_ms counter\n")
	fmt.Fprintf(rw, "idleforge_playtime_ms{save=%q} %d\n", saveID, stats.PlaytimeMs)

	fmt.Fprintf(rw, "# HELP idleforge_purchases_total Total building purchases.\n")
	fmt.Fprintf(rw, "# TYPE idleforge_purchases_total counter\n")
	fmt.Fprintf(rw, "idleforge_purchases_total{save=%q} %d\n", saveID, stats.Purchases)

	fmt.Fprintf(rw, "# HELP idleforge_observers Connected websocket observers.\n")
	fmt.Fprintf(rw, "# TYPE idleforge_observers gauge\n")
	fmt.Fprintf(rw, "idleforge_observers %d\n", hub.ClientCount())

	ids := make([]string, 0, len(rates))
	for id := range rates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintf(rw, "# HELP idleforge_rate_per_sec Current production rate per resource.\n")
	fmt.Fprintf(rw, "# TYPE idleforge_rate_per_sec gauge\n")
	for _, id := range ids {
		fmt.Fprintf(rw, "idleforge_rate_per_sec{save=%q,resource=%q} %g\n", saveID, id, rates[id])
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
