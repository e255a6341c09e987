// Command exoticrisk values a YAML scenario of swaptions calibrated to a SABR
// basket and bond futures, printing values and sensitivities as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/meenmo/mocalib/calibration"
	"github.com/meenmo/mocalib/config"
	"github.com/meenmo/mocalib/future"
	"github.com/meenmo/mocalib/lmm"
	"github.com/meenmo/mocalib/portfolio"
	"github.com/meenmo/mocalib/sabr"
	"github.com/meenmo/mocalib/sensitivity"
)

type pointJSON struct {
	Time   float64 `json:"time"`
	Amount float64 `json:"amount"`
}

type sabrJSON struct {
	Expiry   float64 `json:"expiry"`
	Maturity float64 `json:"maturity"`
	Alpha    float64 `json:"alpha"`
	Rho      float64 `json:"rho"`
	Nu       float64 `json:"nu"`
}

type resultJSON struct {
	ID     string                 `json:"id"`
	Value  float64                `json:"value"`
	Curves map[string][]pointJSON `json:"curves"`
	SABR   []sabrJSON             `json:"sabr,omitempty"`
}

func main() {
	scenarioPath := pflag.StringP("scenario", "s", "", "YAML scenario path")
	configPath := pflag.StringP("config", "c", "", "YAML configuration path (defaults and MOCALIB_* env otherwise)")
	workers := pflag.IntP("workers", "w", 0, "Concurrent requests (overrides configuration)")
	logLevel := pflag.String("log-level", "", "Log level (overrides configuration)")
	pflag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: exoticrisk --scenario <path> [--config <path>] [--workers n]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		exitError(fmt.Sprintf("load config: %v", err))
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		exitError(fmt.Sprintf("logger: %v", err))
	}
	defer func() { _ = logger.Sync() }()

	ids, requests, err := buildRequests(*scenarioPath, cfg, logger)
	if err != nil {
		exitError(err.Error())
	}
	logger.Info("valuing scenario", zap.Int("requests", len(requests)), zap.Int("workers", cfg.Workers))

	results, err := portfolio.Run(context.Background(), requests, cfg.Workers)
	if err != nil {
		exitError(fmt.Sprintf("run: %v", err))
	}

	b, err := encodeResults(ids, results)
	if err != nil {
		exitError(fmt.Sprintf("encode results: %v", err))
	}
	fmt.Println(string(b))
}

// encodeResults renders each result and the aggregate as indented JSON.
func encodeResults(ids []string, results []sensitivity.Result) ([]byte, error) {
	out := make([]resultJSON, 0, len(results)+1)
	for i, r := range results {
		out = append(out, toJSON(ids[i], r))
	}
	out = append(out, toJSON("TOTAL", portfolio.Aggregate(results)))
	return json.MarshalIndent(out, "", "  ")
}

func buildRequests(path string, cfg config.Config, logger *zap.Logger) ([]string, []sensitivity.Propagator, error) {
	s, err := loadScenario(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load scenario: %w", err)
	}
	curves, err := s.curves()
	if err != nil {
		return nil, nil, err
	}

	var ids []string
	var requests []sensitivity.Propagator
	if len(s.Swaptions) > 0 {
		surface, err := s.surface()
		if err != nil {
			return nil, nil, err
		}
		engine := calibration.Engine{
			Config:    cfg,
			Logger:    logger,
			Reference: sabr.Pricer{Surface: surface, Curves: curves},
			Target:    lmm.Pricer{Curves: curves},
		}
		for _, in := range s.Swaptions {
			target, b, seed, err := s.swaption(in, curves)
			if err != nil {
				return nil, nil, fmt.Errorf("swaption %s: %w", in.ID, err)
			}
			ids = append(ids, in.ID)
			requests = append(requests, calibration.ImplicitPropagator{Engine: engine, Target: target, Basket: b, Seed: seed})
		}
	}
	if len(s.Futures) > 0 {
		model, err := s.hullWhite()
		if err != nil {
			return nil, nil, err
		}
		engine := future.Engine{Config: cfg, Logger: logger, Curves: curves, Model: model}
		for _, in := range s.Futures {
			f, err := s.future(in)
			if err != nil {
				return nil, nil, fmt.Errorf("future %s: %w", in.ID, err)
			}
			ids = append(ids, in.ID)
			requests = append(requests, future.AdjointPropagator{Engine: engine, Future: f})
		}
	}
	return ids, requests, nil
}

func toJSON(id string, r sensitivity.Result) resultJSON {
	out := resultJSON{ID: id, Value: r.Value, Curves: map[string][]pointJSON{}}
	for name, pts := range r.Curves.Cleaned() {
		for _, p := range pts {
			out.Curves[name] = append(out.Curves[name], pointJSON{Time: p.Time, Amount: p.Amount})
		}
	}
	for k, v := range r.SABR {
		out.SABR = append(out.SABR, sabrJSON{Expiry: k.Expiry, Maturity: k.Maturity, Alpha: v.Alpha, Rho: v.Rho, Nu: v.Nu})
	}
	sort.Slice(out.SABR, func(i, j int) bool {
		if out.SABR[i].Expiry != out.SABR[j].Expiry {
			return out.SABR[i].Expiry < out.SABR[j].Expiry
		}
		return out.SABR[i].Maturity < out.SABR[j].Maturity
	})
	return out
}

func exitError(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
