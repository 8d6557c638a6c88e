package taskrun

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmylchreest/tigerflow/internal/atomicfile"
)

// dispatch invokes cfg.Run for inputPath inside an atomic-write context:
// the callback is handed a temp path to write its result to, which is
// only renamed onto the task's real output path if the callback succeeds.
// A callback error (or panic, treated the same as an exception in the
// original Python runtime) is captured as a "<stem>.err" sibling rather
// than propagated, so one bad file never stops the scan loop. Every
// dispatch gets a correlation ID so its log lines can be grepped together
// across a concurrent or cluster-fanned-out run.
func dispatch(ctx context.Context, cfg Config, uc *UserContext, inputPath string, log *slog.Logger) {
	stem := stemOf(inputPath, cfg.InputExt)
	outPath := outputPathFor(cfg, stem)
	correlationID := uuid.NewString()
	log = log.With(slog.String("dispatch_id", correlationID))

	err := runCallback(ctx, cfg, uc, inputPath, outPath)
	if err == nil {
		return
	}

	log.Error("task callback failed",
		slog.String("task", cfg.TaskName),
		slog.String("stem", stem),
		slog.Any("error", err))

	if werr := writeErrMarker(errPathFor(cfg, stem), err.Error()); werr != nil {
		log.Error("failed to write error marker",
			slog.String("task", cfg.TaskName),
			slog.String("stem", stem),
			slog.Any("error", werr))
	}
}

// writeErrMarker atomically writes detail into an ".err" sibling file, the
// failure marker every runtime variant leaves for a stem it could not
// process.
func writeErrMarker(path, detail string) error {
	return atomicfile.WriteBytes(path, []byte(detail))
}

// runCallback wraps cfg.Run so that a panic inside user code is converted
// into an error rather than killing the runtime process — the Go
// equivalent of the original runtime catching any raised exception.
func runCallback(ctx context.Context, cfg Config, uc *UserContext, inputPath, outPath string) (err error) {
	staged, err := atomicfile.Stage(outPath)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
		if err != nil {
			_ = staged.Abort()
			return
		}
		err = staged.Commit()
	}()

	return cfg.Run(ctx, uc, inputPath, staged.TmpPath)
}

type panicError struct{ v any }

func (p panicError) Error() string {
	return "panic: " + toString(p.v)
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "non-string panic value"
}
