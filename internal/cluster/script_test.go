package cluster

import (
	"strings"
	"testing"
)

func TestRenderLocalJoinsWithSemicolons(t *testing.T) {
	got := RenderLocal(ScriptParams{
		SetupCommands: []string{"module load python", "source venv/bin/activate"},
		RunCommand:    "tigerflow-taskrun --config cfg.yaml",
	})
	want := "module load python; source venv/bin/activate; tigerflow-taskrun --config cfg.yaml"
	if got != want {
		t.Fatalf("RenderLocal() = %q, want %q", got, want)
	}
}

func TestRenderLocalNoSetupCommands(t *testing.T) {
	got := RenderLocal(ScriptParams{RunCommand: "tigerflow-taskrun --config cfg.yaml"})
	if got != "tigerflow-taskrun --config cfg.yaml" {
		t.Fatalf("RenderLocal() = %q", got)
	}
}

func TestRenderClusterIncludesResourceDirectives(t *testing.T) {
	script, err := RenderCluster(ScriptParams{
		Resources: ClusterResources{
			JobName:       "transcribe",
			CPUs:          4,
			GPUs:          1,
			MemoryMB:      8192,
			WallTime:      "24:00:00",
			SbatchOptions: []string{"--partition=gpu"},
		},
		SetupCommands: []string{"module load cuda"},
		RunCommand:    "tigerflow-taskrun --config cfg.yaml",
	})
	if err != nil {
		t.Fatalf("RenderCluster() error = %v", err)
	}

	for _, want := range []string{
		"#SBATCH --job-name=transcribe",
		"#SBATCH --cpus-per-task=4",
		"#SBATCH --gres=gpu:1",
		"#SBATCH --mem=8192M",
		"#SBATCH --time=24:00:00",
		"#SBATCH --partition=gpu",
		"module load cuda",
		"tigerflow-taskrun --config cfg.yaml",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("rendered script missing %q:\n%s", want, script)
		}
	}
}

func TestRenderClusterOmitsUnsetResourceDirectives(t *testing.T) {
	script, err := RenderCluster(ScriptParams{
		Resources:  ClusterResources{JobName: "bare"},
		RunCommand: "tigerflow-taskrun --config cfg.yaml",
	})
	if err != nil {
		t.Fatalf("RenderCluster() error = %v", err)
	}
	for _, unwanted := range []string{"--cpus-per-task", "--gres", "--mem=", "--time="} {
		if strings.Contains(script, unwanted) {
			t.Errorf("rendered script unexpectedly contains %q:\n%s", unwanted, script)
		}
	}
}
