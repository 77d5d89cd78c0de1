package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// ErrRendererUnavailable 渲染工具不可用
var ErrRendererUnavailable = errors.New("page renderer unavailable")

// Renderer 把单页渲染为PNG
type Renderer interface {
	RenderPage(ctx context.Context, filePath string, page int) ([]byte, error)
}

// PdftoppmRenderer 调用poppler的pdftoppm渲染页面
type PdftoppmRenderer struct {
	Binary string
	DPI    int
}

// NewPdftoppmRenderer 创建渲染器，binary为空时从PATH查找
func NewPdftoppmRenderer(binary string, dpi int) *PdftoppmRenderer {
	if binary == "" {
		binary = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 300
	}
	return &PdftoppmRenderer{Binary: binary, DPI: dpi}
}

// Available 检查渲染工具是否存在
func (r *PdftoppmRenderer) Available() bool {
	_, err := exec.LookPath(r.Binary)
	return err == nil
}

// RenderPage 渲染指定页，页码从1开始
func (r *PdftoppmRenderer) RenderPage(ctx context.Context, filePath string, page int) ([]byte, error) {
	if !r.Available() {
		return nil, ErrRendererUnavailable
	}

	tmpDir, err := os.MkdirTemp("", "pdf_render_")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, r.Binary,
		"-png", "-r", strconv.Itoa(r.DPI),
		"-f", n, "-l", n, "-singlefile",
		filePath, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %v: %s", err, string(out))
	}

	return os.ReadFile(prefix + ".png")
}
