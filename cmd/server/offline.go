package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"idleforge/internal/persistence/indexdb"
	persistlog "idleforge/internal/persistence/log"
	"idleforge/internal/persistence/snapshot"
	"idleforge/internal/protocol"
	"idleforge/internal/sim/catalogs"
	"idleforge/internal/sim/economy"
	"idleforge/internal/sim/offline"
	"idleforge/internal/sim/tuning"
)

type offlineDeps struct {
	liveSaveID string
	dataDir    string
	cats       *catalogs.Catalogs
	tune       tuning.Tuning
	rt         *economy.Runtime
	store      *snapshot.Store
	idx        *indexdb.SQLiteIndex
	grantLog   *persistlog.GrantLogger
	logger     *log.Logger
}

// offlineHandler is the authoritative welcome-back endpoint. It recomputes
// the grant from the server's own copy of the snapshot; the request carries
// only identifiers and timestamps, never resource deltas.
func offlineHandler(d offlineDeps) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
		if err != nil {
			writeProtocolError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "read body")
			return
		}
		var req protocol.OfflineRequestMsg
		if err := json.Unmarshal(body, &req); err != nil {
			writeProtocolError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "malformed json")
			return
		}
		if req.Type != protocol.TypeOfflineRequest || req.ProtocolVersion != protocol.Version {
			writeProtocolError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad type or protocol_version")
			return
		}
		if req.SaveID == "" || req.LastActiveMs <= 0 {
			writeProtocolError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "save_id and last_active_ms required")
			return
		}

		store := d.store
		if req.SaveID != d.liveSaveID {
			store = snapshot.NewStore(filepath.Join(d.dataDir, "saves", req.SaveID), d.tune.Saves.BackupCount, d.logger)
		}
		if !store.Exists() {
			writeProtocolError(rw, http.StatusNotFound, protocol.ErrSaveNotFound, "")
			return
		}

		// For the live save, snapshot the engine first so the grant
		// computes against current state, not the last autosave.
		if req.SaveID == d.liveSaveID {
			ctx := r.Context()
			if err := d.rt.Do(ctx, func(e *economy.Engine) {
				saveEngine(e, store, d.idx, d.liveSaveID, d.logger)
			}); err != nil {
				writeProtocolError(rw, http.StatusServiceUnavailable, protocol.ErrInternal, "")
				return
			}
		}

		st, hdr, err := store.Load()
		if err != nil {
			if errors.Is(err, snapshot.ErrChecksum) || errors.Is(err, snapshot.ErrUnrecoverable) {
				writeProtocolError(rw, http.StatusConflict, protocol.ErrSaveCorrupt, "")
				return
			}
			writeProtocolError(rw, http.StatusInternalServerError, protocol.ErrInternal, "")
			return
		}

		now := time.Now().UnixMilli()
		lastActive := req.LastActiveMs
		// The snapshot already contains everything earned up to SavedAt;
		// starting earlier would double-count.
		if hdr.SavedAt > lastActive {
			lastActive = hdr.SavedAt
		}

		res, ok := offline.Compute(d.cats, d.tune, st, lastActive, now, d.logger)
		if !ok {
			writeProtocolError(rw, http.StatusPreconditionFailed, protocol.ErrBelowThreshold, "")
			return
		}

		grantID := uuid.NewString()
		if req.SaveID == d.liveSaveID {
			err = d.rt.Do(r.Context(), func(e *economy.Engine) {
				offline.ApplyTo(e, res)
				saveEngine(e, store, d.idx, d.liveSaveID, d.logger)
			})
		} else {
			eng := economy.New(economy.Config{
				Catalogs: d.cats,
				Tuning:   d.tune,
				Logger:   d.logger,
				Seed:     st.Seed,
			})
			eng.Import(st)
			offline.ApplyTo(eng, res)
			eng.FlushAccumulators()
			err = store.Save(eng.Export(), now)
		}
		if err != nil {
			writeProtocolError(rw, http.StatusInternalServerError, protocol.ErrInternal, "")
			return
		}

		recordGrant(d.idx, d.grantLog, grantID, req.SaveID, now, now-lastActive, res)

		gained := make(map[string]float64, len(res.Gained))
		for _, g := range res.Gained {
			gained[g.Resource] = g.Amount
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(protocol.OfflineResponseMsg{
			Type:               protocol.TypeOfflineResponse,
			ProtocolVersion:    protocol.Version,
			GrantID:            grantID,
			Gained:             gained,
			EffectiveElapsedMs: res.EffectiveElapsedMs,
			EfficiencyApplied:  res.EfficiencyApplied,
		})
	}
}

func writeProtocolError(rw http.ResponseWriter, status int, code, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         msg,
	})
}
