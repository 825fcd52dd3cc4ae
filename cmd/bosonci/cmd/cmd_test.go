package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bosonci/internal/core"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, ctx context.Context, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(ctx, args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// setup isolates config lookup and returns common flags for the local runtime.
func setup(t *testing.T) (dir string, flags []string) {
	t.Helper()
	dir = t.TempDir()
	t.Setenv("HOME", dir)
	return dir, []string{
		"--runtime", "local",
		"--work-dir", filepath.Join(dir, "work"),
		"--log-dir", filepath.Join(dir, "logs"),
		"--log-level", "error",
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const okDescriptor = `
job: build
env:
  GREETING: hello
containers:
  - display_name: compile
    image: alpine:3.20
    script: |
      echo "$GREETING"
      echo world
`

const failingDescriptor = `
job "build" {
  container {
    image = "alpine:3.20"
    steps = ["echo first", "exit 3", "echo never"]
  }
}
`

func TestRun_Success(t *testing.T) {
	dir, flags := setup(t)
	path := writeFile(t, dir, "build.yaml", okDescriptor)

	res := runCLI(t, context.Background(), "", append([]string{"run", "--run-id", "r1"}, append(flags, path)...)...)
	require.Equal(t, core.ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "hello\nworld\n", res.stdout)
	assert.Contains(t, res.stderr, "run r1: build Success")

	saved, err := os.ReadFile(filepath.Join(dir, "logs", "r1", "stage-0.log"))
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(saved))
}

func TestRun_StepFailed(t *testing.T) {
	dir, flags := setup(t)
	path := writeFile(t, dir, "build.hcl", failingDescriptor)

	res := runCLI(t, context.Background(), "", append([]string{"run"}, append(flags, path)...)...)
	assert.Equal(t, core.ExitStepFailed, res.code)
	assert.Equal(t, "first\n", res.stdout)
	assert.Contains(t, res.stderr, "StepFailed(1, 3)")
}

func TestRun_Stdin(t *testing.T) {
	_, flags := setup(t)
	res := runCLI(t, context.Background(), failingDescriptor, append([]string{"run", "--format", "hcl", "-q"}, append(flags, "-")...)...)
	assert.Equal(t, core.ExitStepFailed, res.code)
	assert.Empty(t, res.stdout)
}

func TestRun_DescriptorErrors(t *testing.T) {
	dir, flags := setup(t)
	bad := writeFile(t, dir, "bad.yaml", "job: x\ncontainers:\n  - steps: [make]\n")

	for _, path := range []string{bad, filepath.Join(dir, "missing.yaml"), writeFile(t, dir, "build.txt", okDescriptor)} {
		res := runCLI(t, context.Background(), "", append([]string{"run"}, append(flags, path)...)...)
		assert.Equal(t, core.ExitDescriptorError, res.code, path)
		assert.Contains(t, res.stderr, "Error:")
	}
}

func TestRun_CancelledIsAborted(t *testing.T) {
	dir, flags := setup(t)
	path := writeFile(t, dir, "build.yaml", okDescriptor)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := runCLI(t, ctx, "", append([]string{"run"}, append(flags, path)...)...)
	assert.Equal(t, core.ExitAborted, res.code)
}

func TestRun_LedgerThenVerify(t *testing.T) {
	dir, flags := setup(t)
	path := writeFile(t, dir, "build.yaml", okDescriptor)
	flags = append(flags, "--ledger", filepath.Join(dir, "ledger.jsonl"), "--key-dir", filepath.Join(dir, "keys"))

	res := runCLI(t, context.Background(), "", append([]string{"run", "--run-id", "r7"}, append(flags, path)...)...)
	require.Equal(t, core.ExitSuccess, res.code, res.stderr)

	res = runCLI(t, context.Background(), "", append([]string{"ledger", "verify"}, flags...)...)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "ledger ok: 2 block(s)\n", res.stdout)

	res = runCLI(t, context.Background(), "", append([]string{"ledger", "inspect", "--run", "r7"}, flags...)...)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "echo world")

	res = runCLI(t, context.Background(), "", append([]string{"keys", "generate"}, flags...)...)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "existing key pair")
}

func TestLedgerVerify_RequiresLedger(t *testing.T) {
	_, flags := setup(t)
	res := runCLI(t, context.Background(), "", append([]string{"ledger", "verify"}, flags...)...)
	assert.Equal(t, exitUsage, res.code)
	assert.Contains(t, res.stderr, "no ledger configured")
}

func TestValidate(t *testing.T) {
	dir, flags := setup(t)
	good := writeFile(t, dir, "build.yaml", okDescriptor)
	hcl := writeFile(t, dir, "build.hcl", failingDescriptor)

	res := runCLI(t, context.Background(), "", append([]string{"validate"}, append(flags, good, hcl)...)...)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, `job "build", 1 stage(s), 2 step(s)`)
	assert.Contains(t, res.stdout, "[0] compile (alpine:3.20): 2 step(s)")
	assert.Contains(t, res.stdout, `job "build", 1 stage(s), 3 step(s)`)

	bad := writeFile(t, dir, "bad.yaml", "job: [")
	res = runCLI(t, context.Background(), "", append([]string{"validate"}, append(flags, good, bad)...)...)
	assert.Equal(t, core.ExitDescriptorError, res.code)
	assert.Contains(t, res.stdout, bad+": invalid")
}

func TestConfigErrors(t *testing.T) {
	_, flags := setup(t)
	res := runCLI(t, context.Background(), "", append([]string{"validate", "x.yaml"}, append(flags, "--runtime", "podman")...)...)
	assert.Equal(t, exitUsage, res.code)
	assert.Contains(t, res.stderr, "invalid runtime")

	t.Setenv("BOSONCI_LOG_FORMAT", "xml")
	res = runCLI(t, context.Background(), "", "validate", "x.yaml")
	assert.Equal(t, exitUsage, res.code)
}
