package tasks

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/kaustavdm/watchme/internal/types"
)

func systemDefinition() Definition {
	return Definition{
		Type: "system",
		Validate: func(params map[string]string) error {
			switch params["func"] {
			case "", "runtime_info", "memory_usage":
				return nil
			default:
				return fmt.Errorf("unknown func %q", params["func"])
			}
		},
		New: func(spec types.TaskSpec) (Func, error) {
			if spec.Param("func", "runtime_info") == "memory_usage" {
				return memoryUsage, nil
			}
			return runtimeInfo, nil
		},
	}
}

func runtimeInfo(_ context.Context, _ map[string]string) (any, error) {
	host, _ := os.Hostname()
	return map[string]any{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
		"num_cpu":    runtime.NumCPU(),
		"goroutines": runtime.NumGoroutine(),
		"hostname":   host,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func memoryUsage(_ context.Context, _ map[string]string) (any, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]any{
		"alloc_mb":       bToMb(m.Alloc),
		"total_alloc_mb": bToMb(m.TotalAlloc),
		"sys_mb":         bToMb(m.Sys),
		"num_gc":         m.NumGC,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
