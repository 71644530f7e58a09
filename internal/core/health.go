package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// dependencyTimeout bounds the whole /health run.
const dependencyTimeout = 2 * time.Second

// Dependency is something the entitlement engine cannot serve without, such
// as the ledger store.
type Dependency interface {
	Name() string
	Ping(ctx context.Context) error
}

// PingFunc adapts a ping function to Dependency.
type PingFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (p PingFunc) Name() string                   { return p.Label }
func (p PingFunc) Ping(ctx context.Context) error { return p.Fn(ctx) }

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthReport struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Dependencies map[string]dependencyStatus `json:"dependencies,omitempty"`
}

type pingResult struct {
	index int
	err   error
}

// HandleHealth pings every dependency in parallel and answers 503 when any of
// them fails or misses the deadline. The endpoint is public.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout)
	defer cancel()

	report := healthReport{
		Status:  "healthy",
		Service: s.Config.Service,
		Version: s.Config.Build.Version,
	}
	deps := s.Dependencies
	if len(deps) == 0 {
		JSON(w, r, http.StatusOK, report)
		return
	}

	// Buffered so late pings never block after the handler returns.
	results := make(chan pingResult, len(deps))
	for i, dep := range deps {
		go func() {
			results <- pingResult{index: i, err: pingSafely(ctx, dep)}
		}()
	}

	report.Dependencies = make(map[string]dependencyStatus, len(deps))
	for _, dep := range deps {
		report.Dependencies[dep.Name()] = dependencyStatus{Status: "unhealthy", Error: "health check timed out"}
	}

collect:
	for received := 0; received < len(deps); received++ {
		select {
		case res := <-results:
			st := dependencyStatus{Status: "healthy"}
			if res.err != nil {
				st = dependencyStatus{Status: "unhealthy", Error: res.err.Error()}
			}
			report.Dependencies[deps[res.index].Name()] = st
		case <-ctx.Done():
			break collect
		}
	}

	status := http.StatusOK
	for _, st := range report.Dependencies {
		if st.Status != "healthy" {
			report.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	JSON(w, r, status, report)
}

func pingSafely(ctx context.Context, dep Dependency) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("ping panicked: %v", rvr)
		}
	}()
	return dep.Ping(ctx)
}
