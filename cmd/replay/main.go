// Command replay runs the economy deterministically for a fixed number of
// ticks and prints the resulting ledger and state digest. Two runs with the
// same configs, seed and script must print identical output.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"idleforge/internal/persistence/snapshot"
	"idleforge/internal/sim/catalogs"
	"idleforge/internal/sim/economy"
	"idleforge/internal/sim/tuning"
)

type scriptStep struct {
	Tick     uint64 `json:"tick"`
	Building string `json:"building"`
	Count    int    `json:"count"`
	Upgrade  string `json:"upgrade,omitempty"`
}

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		seed       = flag.Int64("seed", 1337, "rng seed")
		ticks      = flag.Uint64("ticks", 1000, "number of ticks to simulate")
		snapPath   = flag.String("snapshot", "", "resume from a .ifz snapshot (optional)")
		scriptPath = flag.String("script", "", "purchase script json (optional)")
		quiet      = flag.Bool("quiet", false, "print only the final digest")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[replay] ", 0)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tp := *tuningPath
	if tp == "" {
		tp = *configDir + "/tuning.yaml"
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			tune = tuning.Defaults()
		} else {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
	}

	var script []scriptStep
	if *scriptPath != "" {
		raw, err := os.ReadFile(*scriptPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read script:", err)
			os.Exit(1)
		}
		if err := json.Unmarshal(raw, &script); err != nil {
			fmt.Fprintln(os.Stderr, "parse script:", err)
			os.Exit(1)
		}
		sort.SliceStable(script, func(i, j int) bool { return script[i].Tick < script[j].Tick })
	}

	eng := economy.New(economy.Config{
		Catalogs: cats,
		Tuning:   tune,
		Logger:   logger,
		Seed:     *seed,
	})

	if *snapPath != "" {
		raw, err := os.ReadFile(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		st, hdr, err := snapshot.Decode(raw, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, "decode snapshot:", err)
			os.Exit(1)
		}
		eng.Import(st)
		if !*quiet {
			fmt.Printf("resumed v%d saved_at=%d checksum=%s\n", hdr.Version, hdr.SavedAt, hdr.Checksum)
		}
	}

	deltaMs := int64(tune.TickMs)
	next := 0
	for tick := uint64(0); tick < *ticks; tick++ {
		for next < len(script) && script[next].Tick == tick {
			step := script[next]
			next++
			switch {
			case step.Upgrade != "":
				res := eng.PurchaseUpgrade(step.Upgrade)
				if !*quiet {
					fmt.Printf("tick=%d upgrade=%s result=%s\n", tick, step.Upgrade, res)
				}
			case step.Building != "":
				n := step.Count
				if n <= 0 {
					n = 1
				}
				res := eng.Purchase(step.Building, n)
				if !*quiet {
					fmt.Printf("tick=%d buy=%s count=%d result=%s\n", tick, step.Building, n, res)
				}
			}
		}
		eng.ProcessTick(deltaMs)
	}
	eng.FlushAccumulators()

	st := eng.Export()
	raw, err := snapshot.Encode(st, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}

	if !*quiet {
		fmt.Printf("ticks=%d era=%s prestige=%d\n", *ticks, eng.Era(), eng.Prestige())
		for _, r := range st.Resources {
			fmt.Printf("resource %-12s amount=%.4f lifetime=%.4f\n", r.ID, r.Amount, r.Lifetime)
		}
		for _, b := range st.Buildings {
			if b.Count > 0 || b.Unlocked {
				fmt.Printf("building %-12s count=%d unlocked=%v\n", b.ID, b.Count, b.Unlocked)
			}
		}
	}
	fmt.Printf("digest=%s\n", snapshot.Checksum(raw))
}
