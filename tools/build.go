///usr/bin/true; exec /usr/bin/env go run "$0" "$@"

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const PACKAGE_NAME = "github.com/tinyrange/lirjit"

// Targets with a native backend. riscv64 binaries run the compiler but
// cannot call generated code.
var releaseBuilds = []crossBuild{
	{GOOS: "linux", GOARCH: "amd64"},
	{GOOS: "linux", GOARCH: "arm64"},
	{GOOS: "linux", GOARCH: "riscv64"},
	{GOOS: "darwin", GOARCH: "arm64"},
	{GOOS: "darwin", GOARCH: "amd64"},
}

type crossBuild struct {
	GOOS   string
	GOARCH string
}

func (cb crossBuild) IsNative() bool {
	return cb.GOOS == runtime.GOOS && cb.GOARCH == runtime.GOARCH
}

func (cb crossBuild) OutputName(name string) string {
	if cb.IsNative() {
		return name
	}
	return fmt.Sprintf("%s_%s_%s", name, cb.GOOS, cb.GOARCH)
}

var hostBuild = crossBuild{
	GOOS:   runtime.GOOS,
	GOARCH: runtime.GOARCH,
}

type buildOptions struct {
	Package     string
	OutputName  string
	OutputDir   string
	Build       crossBuild
	RaceEnabled bool
	BuildTests  bool
	Version     string
}

type buildOutput struct {
	Path string
}

func goBuild(opts buildOptions) (buildOutput, error) {
	outputDir := "build"
	if opts.OutputDir != "" {
		outputDir = opts.OutputDir
	}

	output := filepath.Join(outputDir, opts.Build.OutputName(opts.OutputName))
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return buildOutput{}, fmt.Errorf("failed to create build directory: %w", err)
	}

	pkg := PACKAGE_NAME + "/" + opts.Package

	env := os.Environ()
	env = append(env, "GOOS="+opts.Build.GOOS)
	env = append(env, "GOARCH="+opts.Build.GOARCH)
	// purego needs no cgo; the race detector does.
	if opts.RaceEnabled {
		env = append(env, "CGO_ENABLED=1", "GOFLAGS=-race")
	} else {
		env = append(env, "CGO_ENABLED=0")
	}

	var args []string
	if opts.BuildTests {
		args = []string{"go", "test", "-c", "-o", output}
	} else {
		args = []string{"go", "build", "-o", output}
	}
	if opts.Version != "" && !opts.BuildTests {
		args = append(args, fmt.Sprintf("-ldflags=-X main.Version=%s", opts.Version))
	}
	args = append(args, pkg)

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return buildOutput{}, fmt.Errorf("go build failed: %w", err)
	}
	return buildOutput{Path: output}, nil
}

func getVersionFromGit() string {
	if ref := os.Getenv("GITHUB_REF_NAME"); ref != "" && strings.HasPrefix(ref, "v") {
		return ref
	}

	cmd := exec.Command("git", "describe", "--tags", "--always")
	out, err := cmd.Output()
	if err == nil {
		version := strings.TrimSpace(string(out))
		if version != "" {
			return version
		}
	}

	return "dev"
}

// testBinaries builds the test binaries of every package with native
// execution tests for b, so they can be copied to or emulated on b.
func testBinaries(b crossBuild, outputDir string) error {
	for _, pkg := range []string{"lir", "internal/execmem", "internal/programs", "internal/asm/amd64", "internal/asm/arm64", "internal/asm/riscv", "stack"} {
		out, err := goBuild(buildOptions{
			Package:    pkg,
			OutputName: strings.ReplaceAll(pkg, "/", "_") + ".test",
			OutputDir:  outputDir,
			Build:      b,
			BuildTests: true,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", pkg, err)
		}
		fmt.Println(out.Path)
	}
	return nil
}

func main() {
	release := flag.Bool("release", false, "Build lirjit for every release target")
	tests := flag.Bool("tests", false, "Build test binaries instead of the command")
	race := flag.Bool("race", false, "Enable the race detector (host only)")
	target := flag.String("target", "", "Cross build for GOOS/GOARCH")
	outputDir := flag.String("o", "build", "Output directory")
	flag.Parse()

	builds := []crossBuild{hostBuild}
	switch {
	case *release:
		builds = releaseBuilds
	case *target != "":
		goos, goarch, ok := strings.Cut(*target, "/")
		if !ok {
			fmt.Fprintf(os.Stderr, "target must be GOOS/GOARCH, got %q\n", *target)
			os.Exit(1)
		}
		builds = []crossBuild{{GOOS: goos, GOARCH: goarch}}
	}

	version := getVersionFromGit()
	for _, b := range builds {
		if *tests {
			if err := testBinaries(b, filepath.Join(*outputDir, b.GOOS+"_"+b.GOARCH)); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			continue
		}
		out, err := goBuild(buildOptions{
			Package:     "cmd/lirjit",
			OutputName:  "lirjit",
			OutputDir:   *outputDir,
			Build:       b,
			RaceEnabled: *race && b.IsNative(),
			Version:     version,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(out.Path)
	}
}
