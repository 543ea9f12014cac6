package rasterizer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// PopplerRenderer renders PDF pages with the poppler-utils binaries
// pdfinfo and pdftoppm.
type PopplerRenderer struct {
	PDFInfo  string
	PDFToPPM string
}

// NewPopplerRenderer uses pdfinfo and pdftoppm from PATH.
func NewPopplerRenderer() *PopplerRenderer {
	return &PopplerRenderer{PDFInfo: "pdfinfo", PDFToPPM: "pdftoppm"}
}

// PageCount reads the "Pages:" line of pdfinfo.
func (p *PopplerRenderer) PageCount(ctx context.Context, pdfPath string) (int, error) {
	cmd := exec.CommandContext(ctx, p.PDFInfo, pdfPath)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo failed: %w", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			if total, convErr := strconv.Atoi(parts[1]); convErr == nil {
				return total, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("failed to determine page count from pdfinfo output")
}

// RenderPage renders one 1-based page to PNG at dpi.
func (p *PopplerRenderer) RenderPage(ctx context.Context, pdfPath string, page, dpi int) ([]byte, error) {
	workDir, err := os.MkdirTemp("", "pdfpage-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	prefix := filepath.Join(workDir, "page")
	args := []string{
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-singlefile",
		pdfPath,
		prefix,
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.PDFToPPM, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed on page %d: %w: %s", page, err, strings.TrimSpace(stderr.String()))
	}
	return os.ReadFile(prefix + ".png")
}
