package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
	"github.com/conneroisu/ocrwatch/internal/validation"
)

const (
	DefaultCommand  = "ocrmypdf"
	DefaultOptimize = 3
	DefaultImageDPI = 150
	DefaultTimeout  = 10 * time.Minute

	// exitPriorOCR is returned by ocrmypdf when the document already has a
	// text layer and --skip-text could not be applied.
	exitPriorOCR = 6
)

// Output types accepted by ocrmypdf --output-type.
const (
	OutputTypePDF  = "pdf"
	OutputTypePDFA = "pdfa"
)

var allowedCommands = map[string]bool{
	DefaultCommand: true,
}

var (
	ErrPriorOCR    = errors.New("document already contains OCR text")
	ErrEmptyOutput = errors.New("ocr produced empty output")
)

// OCRConfig configures the ocrmypdf invocation.
type OCRConfig struct {
	Command    string
	OutputType string
	Optimize   int
	ImageDPI   int
	Timeout    time.Duration
	// TempDir hosts the per-call scratch directories. Empty uses os.TempDir.
	TempDir string
}

// OCRmyPDF runs the ocrmypdf command line tool on a private copy of the
// input.
type OCRmyPDF struct {
	command    string
	outputType string
	optimize   int
	imageDPI   int
	timeout    time.Duration
	tempDir    string
}

// NewOCRmyPDF validates the command and fills defaults.
func NewOCRmyPDF(cfg OCRConfig) (*OCRmyPDF, error) {
	command := cfg.Command
	if command == "" {
		command = DefaultCommand
	}
	if err := validation.ValidateCommand(command, allowedCommands); err != nil {
		return nil, fmt.Errorf("ocr command validation failed: %w", err)
	}

	outputType := NormalizeOutputType(cfg.OutputType)

	optimize := cfg.Optimize
	if optimize < 0 || optimize > 3 {
		optimize = DefaultOptimize
	}
	imageDPI := cfg.ImageDPI
	if imageDPI <= 0 {
		imageDPI = DefaultImageDPI
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &OCRmyPDF{
		command:    command,
		outputType: outputType,
		optimize:   optimize,
		imageDPI:   imageDPI,
		timeout:    timeout,
		tempDir:    cfg.TempDir,
	}, nil
}

// NormalizeOutputType maps unknown values to pdf.
func NormalizeOutputType(outputType string) string {
	switch strings.ToLower(strings.TrimSpace(outputType)) {
	case OutputTypePDFA:
		return OutputTypePDFA
	default:
		return OutputTypePDF
	}
}

// Name implements Processor.
func (o *OCRmyPDF) Name() string {
	return "ocrmypdf"
}

func (o *OCRmyPDF) args(in, out string, jobs int) []string {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	return []string{
		"--skip-text",
		"--optimize", strconv.Itoa(o.optimize),
		"--jobs", strconv.Itoa(jobs),
		"--image-dpi", strconv.Itoa(o.imageDPI),
		"--output-type", o.outputType,
		"--no-progress-bar",
		"--quiet",
		in,
		out,
	}
}

// Process implements Processor. Every failure path returns the input bytes
// with Transformed=false.
func (o *OCRmyPDF) Process(ctx context.Context, input []byte, jobs int) Result {
	data, err := o.run(ctx, input, jobs)
	if err != nil {
		return Result{Bytes: input, Transformed: false, Err: err}
	}
	return Result{Bytes: data, Transformed: true}
}

func (o *OCRmyPDF) run(ctx context.Context, input []byte, jobs int) ([]byte, error) {
	if len(input) == 0 {
		return nil, ingesterrors.NewTransformError(ingesterrors.ErrCodeTransformFailed, "empty input", nil)
	}

	dir, err := os.MkdirTemp(o.tempDir, "ocrwatch-")
	if err != nil {
		return nil, ingesterrors.NewTransformError(ingesterrors.ErrCodeTransformFailed, "creating scratch directory", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.pdf")
	out := filepath.Join(dir, "output.pdf")
	if err := os.WriteFile(in, input, 0o600); err != nil {
		return nil, ingesterrors.NewTransformError(ingesterrors.ErrCodeTransformFailed, "staging input", err)
	}

	args := o.args(in, out, jobs)
	for _, arg := range args {
		if err := validation.ValidateArgument(arg); err != nil {
			return nil, ingesterrors.ErrCommandInjection(arg).WithContext("reason", err.Error())
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, o.command, args...)
	cmd.Dir = dir
	cmd.WaitDelay = 2 * time.Second

	output, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() != nil {
			return nil, ingesterrors.NewTransformError(ingesterrors.ErrCodeTransformFailed, "ocrmypdf timed out", runCtx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == exitPriorOCR {
			return nil, ingesterrors.NewTransformError(ingesterrors.ErrCodeTransformFailed, "ocrmypdf skipped document", ErrPriorOCR)
		}
		return nil, ingesterrors.NewTransformError(ingesterrors.ErrCodeTransformFailed, "ocrmypdf failed", err).
			WithContext("output", tail(output, 512))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, ingesterrors.NewTransformError(ingesterrors.ErrCodeTransformFailed, "reading ocr output", err)
	}
	if len(data) == 0 {
		return nil, ingesterrors.NewTransformError(ingesterrors.ErrCodeTransformFailed, "ocrmypdf produced no data", ErrEmptyOutput)
	}
	return data, nil
}

func tail(output []byte, max int) string {
	output = bytes.TrimSpace(output)
	if len(output) > max {
		output = output[len(output)-max:]
	}
	return string(output)
}

var _ Processor = (*OCRmyPDF)(nil)
