package cluster

import (
	"fmt"
	"os"
	"strings"
	"text/template"
)

// ClusterResources carries the resource-flag inputs contributed to a
// cluster task's rendered submission script: cpus, gpus, memory, wall
// time, and arbitrary sbatch-option passthrough.
type ClusterResources struct {
	CPUs          int
	GPUs          int
	MemoryMB      int
	WallTime      string // e.g. "24:00:00", passed through verbatim
	JobName       string
	SbatchOptions []string // raw passthrough lines, e.g. "--partition=gpu"
}

// ScriptParams parameterizes a rendered submission script.
type ScriptParams struct {
	Resources     ClusterResources
	SetupCommands []string
	RunCommand    string
}

const slurmPrologue = `#!/bin/sh
#SBATCH --job-name={{.Resources.JobName}}
{{- if .Resources.CPUs}}
#SBATCH --cpus-per-task={{.Resources.CPUs}}
{{- end}}
{{- if .Resources.GPUs}}
#SBATCH --gres=gpu:{{.Resources.GPUs}}
{{- end}}
{{- if .Resources.MemoryMB}}
#SBATCH --mem={{.Resources.MemoryMB}}M
{{- end}}
{{- if .Resources.WallTime}}
#SBATCH --time={{.Resources.WallTime}}
{{- end}}
{{- range .Resources.SbatchOptions}}
#SBATCH {{.}}
{{- end}}
{{range .SetupCommands}}{{.}}
{{end}}{{.RunCommand}}
`

var clusterTemplate = template.Must(template.New("cluster-script").Parse(slurmPrologue))

// RenderCluster produces a full Slurm submission script: an #SBATCH
// prologue built from Resources, one setup command per line, followed by
// the run-directly invocation. Resolves the "setup_commands" ambiguity in
// favor of the cluster interpretation: one directive per line.
func RenderCluster(p ScriptParams) (string, error) {
	var b strings.Builder
	if err := clusterTemplate.Execute(&b, p); err != nil {
		return "", fmt.Errorf("cluster: rendering script: %w", err)
	}
	return b.String(), nil
}

// RenderLocal composes a task's setup commands and its run-directly
// invocation into a single shell line joined by ";", matching
// original_source's Task.to_script()'s local/local-async composition.
func RenderLocal(p ScriptParams) string {
	parts := append(append([]string{}, p.SetupCommands...), p.RunCommand)
	return strings.Join(parts, "; ")
}

// writeScript stages scriptText into a private temp file that a scheduler
// CLI can be pointed at by path.
func writeScript(scriptText string) (string, error) {
	f, err := os.CreateTemp("", "tigerflow-job-*.sh")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.WriteString(scriptText); err != nil {
		return "", err
	}
	if err := f.Chmod(0o755); err != nil {
		return "", err
	}
	return f.Name(), nil
}
