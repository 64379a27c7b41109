// Command crowdstudy runs a consensus study defined in a YAML file and
// prints the headline statistics: the consensus value, how many estimates
// beat it, and the closest individual estimate.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-consensus/infrastructure/config"
	"github.com/ahrav/go-consensus/infrastructure/middleware"
	"github.com/ahrav/go-consensus/internal/application"
	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// appConfig holds the operational settings read from the environment.
// Study content always comes from the YAML file; the environment only
// controls how the process runs.
type appConfig struct {
	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint. Empty disables the endpoint.
	MetricsAddr string `env:"METRICS_ADDR"`

	// Timeout bounds the total study execution time.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

func main() {
	studyPath := flag.String("study", "study.yaml", "Path to the study YAML file")
	flag.Parse()

	var cfg appConfig
	envLoader := config.NewEnvLoader(config.WithPrefix("CROWDSTUDY_"))
	if err := envLoader.Load(context.Background(), &cfg); err != nil {
		log.Fatalf("Failed to parse environment: %v", err)
	}

	metrics := middleware.NewPrometheusMetrics()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			server := &http.Server{
				Addr:              cfg.MetricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			if err := server.ListenAndServe(); err != nil {
				log.Printf("Metrics server stopped: %v", err)
			}
		}()
	}

	registry := application.NewDefaultUnitRegistry()
	registry.SetUnitWrapper(func(u ports.Unit) ports.Unit {
		return middleware.NewInstrumentedUnit(u, middleware.NewOTelExecutionObserver(metrics, u.Name()))
	})

	loader, err := application.NewStudyLoader(registry)
	if err != nil {
		log.Fatalf("Failed to create study loader: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	study, err := loader.LoadFromFile(ctx, *studyPath)
	if err != nil {
		log.Fatalf("Failed to load study: %v", err)
	}

	executionID := fmt.Sprintf("run_%d", time.Now().UnixNano())
	state := study.SeedState(executionID)

	finalState, err := application.ExecuteGraph(ctx, study.Graph, state)
	if err != nil {
		log.Fatalf("Study execution failed: %v", err)
	}

	report, ok := domain.Get(finalState, domain.KeyReport)
	if !ok || report == nil {
		log.Fatalf("Study produced no report")
	}

	estimates, _ := domain.Get(finalState, domain.KeyEstimates)
	groundTruth, _ := domain.Get(finalState, domain.KeyGroundTruth)

	fmt.Printf("Study: %s\n", study.Config.Metadata.Name)
	fmt.Printf("- Estimates: %d\n", len(estimates))
	fmt.Printf("- Ground truth: %g\n", groundTruth)
	fmt.Printf("- Consensus: %g\n", report.Result.Consensus)
	fmt.Printf("- Estimates beating consensus: %d (%.1f%%)\n",
		report.Result.WinnerCount, report.Result.WinnerFraction*100)
	if report.ClosestEstimate != nil {
		if report.ClosestEstimate.ID != "" {
			fmt.Printf("- Closest estimate: %g (%s)\n",
				report.ClosestEstimate.Value, report.ClosestEstimate.ID)
		} else {
			fmt.Printf("- Closest estimate: %g\n", report.ClosestEstimate.Value)
		}
	}
	fmt.Printf("- Units executed: %d\n", finalState.UnitsExecuted())
}
