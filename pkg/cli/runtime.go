// pkg/cli/runtime.go

package cli

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/telemetry"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RuntimeContext is what every warden command body receives.
type RuntimeContext struct {
	Ctx     context.Context
	Log     otelzap.LoggerWithCtx
	Command string
	Started time.Time
}

func NewContext(ctx context.Context, command string) *RuntimeContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RuntimeContext{
		Ctx:     ctx,
		Log:     otelzap.L().Ctx(ctx),
		Command: command,
		Started: time.Now(),
	}
}

// Wrap adapts a command body to cobra's RunE, traces it and logs how it
// ended. Panics are left to the process-wide fault capture.
func Wrap(fn func(rc *RuntimeContext, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, span := telemetry.Start(cmd.Context(), cmd.CommandPath(),
			attribute.StringSlice("args", args))
		rc := NewContext(ctx, cmd.CommandPath())
		rc.Log.Debug("Command started", zap.String("command", rc.Command), zap.Strings("args", args))

		err := fn(rc, cmd, args)
		telemetry.End(span, err)
		fields := []zap.Field{
			zap.String("command", rc.Command),
			zap.Duration("duration", time.Since(rc.Started)),
		}
		if err != nil {
			rc.Log.Debug("Command failed", append(fields, zap.Error(err))...)
			return err
		}
		rc.Log.Debug("Command finished", fields...)
		return nil
	}
}
