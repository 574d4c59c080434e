// Package specs collects the machine information reported to RPC peers on
// a spec request.
package specs

import (
	"context"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dria-x-project/dkn/internal/logger"
	"github.com/dria-x-project/dkn/payloads"
)

// publicIPLookupURL answers with the caller's public address in plain text.
const publicIPLookupURL = "https://api.ipify.org"

// lookupTimeout bounds the public IP lookup; specs collection must not
// stall a spec request on a slow network.
const lookupTimeout = 5 * time.Second

// Collector gathers machine specs. Create it once and reuse it; the GPU
// adapter list is fixed at construction.
type Collector struct {
	httpClient *http.Client
	log        logger.Logger
	// models is the display list of served models; Collect does not report it.
	models []string
	gpus   []payloads.GPUAdapter
}

// NewCollector creates a collector for a node serving the given models.
func NewCollector(models []string) *Collector {
	return &Collector{
		httpClient: &http.Client{Timeout: lookupTimeout},
		log:        logger.GetDefaultLogger(),
		models:     models,
		// GPU enumeration has no portable implementation; the adapter list
		// is reported empty.
		gpus: []payloads.GPUAdapter{},
	}
}

// Collect gathers the current machine specs. Partial failures degrade to
// zero values instead of failing the spec request.
func (c *Collector) Collect(ctx context.Context) payloads.Specs {
	specs := payloads.Specs{
		OS:     runtime.GOOS,
		Arch:   runtime.GOARCH,
		Family: osFamily(),
		GPUs:   c.gpus,
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		specs.TotalMem = vm.Total
		specs.FreeMem = vm.Available
	} else {
		c.log.Warn("could not read memory info", logger.Error(err))
	}

	if counts, err := cpu.CountsWithContext(ctx, false); err == nil {
		specs.NumCPUs = &counts
	}
	if usage, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(usage) > 0 {
		specs.CPUUsage = usage[0]
	}

	specs.PublicIP = c.lookupPublicIP(ctx)

	return specs
}

// lookupPublicIP is a best-effort lookup; failures return an empty string.
func (c *Collector) lookupPublicIP(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicIPLookupURL, nil)
	if err != nil {
		return ""
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("public ip lookup failed", logger.Error(err))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}

func osFamily() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	default:
		return "unix"
	}
}
