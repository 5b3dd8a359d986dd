package dynamic

import (
	"time"

	"github.com/enfyra/app/config"
)

// ResourceLimits bounds a single sandbox execution.
type ResourceLimits struct {
	// MaxExecutionTime interrupts scripts that run longer. Zero means no
	// timeout.
	MaxExecutionTime time.Duration

	// MaxCodeSize rejects compiled code larger than this many bytes. Zero
	// means unlimited.
	MaxCodeSize int

	// MaxCallStackSize caps script recursion depth. Zero keeps the runtime
	// default.
	MaxCallStackSize int
}

// DefaultResourceLimits returns the limits used when none are configured.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxExecutionTime: 5 * time.Second,
		MaxCodeSize:      8 << 20,
		MaxCallStackSize: 2048,
	}
}

// ParseResourceLimitsFromConfig overlays the configured sandbox section on
// the defaults. Zero values keep the default.
func ParseResourceLimitsFromConfig(cfg config.SandboxSection) ResourceLimits {
	limits := DefaultResourceLimits()
	if cfg.MaxExecutionTime > 0 {
		limits.MaxExecutionTime = cfg.MaxExecutionTime
	}
	if cfg.MaxCodeSize > 0 {
		limits.MaxCodeSize = cfg.MaxCodeSize
	}
	if cfg.MaxCallStackSize > 0 {
		limits.MaxCallStackSize = cfg.MaxCallStackSize
	}
	return limits
}
