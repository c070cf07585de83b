package processor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const probeTimeout = 10 * time.Second

// Capability describes whether the OCR tool can be used.
type Capability struct {
	Available bool   `json:"available" yaml:"available"`
	Command   string `json:"command" yaml:"command"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
	Detail    string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Probe looks the command up and asks it for its version.
func Probe(ctx context.Context, command string) Capability {
	if command == "" {
		command = DefaultCommand
	}
	capability := Capability{Command: command}

	path, err := exec.LookPath(command)
	if err != nil {
		capability.Detail = fmt.Sprintf("binary %q not found", command)
		return capability
	}
	capability.Path = path

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, path, "--version")
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()
	if err != nil {
		capability.Detail = fmt.Sprintf("%s --version failed: %v", command, err)
		return capability
	}

	capability.Available = true
	capability.Version = firstLine(output)
	return capability
}

func firstLine(output []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

// ProbeOptions controls processor selection.
type ProbeOptions struct {
	// Enabled false forces pass-through without probing.
	Enabled bool
	OCR     OCRConfig
}

// Select probes the OCR tool once and returns the processor to use for the
// lifetime of the process.
func Select(ctx context.Context, opts ProbeOptions) (Processor, Capability) {
	command := opts.OCR.Command
	if command == "" {
		command = DefaultCommand
	}
	if !opts.Enabled {
		return PassThrough{}, Capability{Command: command, Detail: "ocr disabled by configuration"}
	}

	capability := Probe(ctx, command)
	if !capability.Available {
		return PassThrough{}, capability
	}

	cfg := opts.OCR
	cfg.Command = capability.Path
	ocr, err := NewOCRmyPDF(cfg)
	if err != nil {
		capability.Available = false
		capability.Detail = err.Error()
		return PassThrough{}, capability
	}
	return ocr, capability
}
