package registry

import (
	"context"
	"os"
	"strings"

	"github.com/jmylchreest/tigerflow/internal/taskrun"
)

// EchoParams mirrors original_source's library/echo.py Echo.Params: a
// prefix/suffix to wrap the file's content in, and an uppercase toggle.
type EchoParams struct {
	Prefix    string `param:"prefix" default:"" help:"Text to prepend to the content"`
	Suffix    string `param:"suffix" default:"" help:"Text to append to the content"`
	Uppercase bool   `param:"uppercase" default:"false" help:"Convert content to uppercase"`
}

func init() {
	Register(&Task{
		Name:             "echo",
		ShortDescription: "Copy input files to output with optional prefix/suffix.",
		LongDescription:  "Echo task - copies input to output with optional transformations.\n\nA simple example task that demonstrates the Params pattern.",
		Params:           &EchoParams{},
		New:              newEcho,
	})
}

func newEcho(params map[string]any) (taskrun.RunFunc, error) {
	prefix := requireString(params, "prefix", "")
	suffix := requireString(params, "suffix", "")
	uppercase := requireBool(params, "uppercase", false)

	return func(ctx context.Context, uc *taskrun.UserContext, inputPath, outputPath string) error {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return err
		}
		content := string(data)
		if uppercase {
			content = strings.ToUpper(content)
		}
		return os.WriteFile(outputPath, []byte(prefix+content+suffix), 0o644)
	}, nil
}
