package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"medvoll-identity/internal/app"
)

var (
	runtimeMu  sync.Mutex
	apiRuntime *app.Runtime
)

// Handler is the serverless entry point. The runtime, including the
// bootstrap seed, is built on the first request of each instance. A build
// that fails is retried on the next request. Cleanup runs through the
// cron-triggered maintenance endpoint.
func Handler(w http.ResponseWriter, r *http.Request) {
	runtime, err := currentRuntime(func() (*app.Runtime, error) {
		return app.Build(app.Options{
			LoadDotEnv:    false,
			RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
		})
	})
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "application bootstrap failed"})
		return
	}

	runtime.Handler.ServeHTTP(w, r)
}

func currentRuntime(build func() (*app.Runtime, error)) (*app.Runtime, error) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if apiRuntime != nil {
		return apiRuntime, nil
	}
	runtime, err := build()
	if err != nil {
		return nil, err
	}
	apiRuntime = runtime
	return runtime, nil
}
