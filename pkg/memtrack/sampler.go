package memtrack

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/jdziat/doc-pipeline/pkg/core"
)

// ProcessSampler returns a Sampler reading the current process via gopsutil.
func ProcessSampler() Sampler {
	var (
		once sync.Once
		proc *process.Process
		err  error
	)
	return func() (core.MemorySample, error) {
		once.Do(func() {
			proc, err = process.NewProcess(int32(os.Getpid()))
		})
		if err != nil {
			return core.MemorySample{}, err
		}

		info, infoErr := proc.MemoryInfo()
		if infoErr != nil {
			return core.MemorySample{}, infoErr
		}
		percent, pctErr := proc.MemoryPercent()
		if pctErr != nil {
			// Percent is best-effort on some platforms; RSS/VMS still stand.
			percent = 0
		}

		return core.MemorySample{
			Timestamp: time.Now().UTC(),
			RSS:       info.RSS,
			VMS:       info.VMS,
			Percent:   float64(percent),
		}, nil
	}
}
