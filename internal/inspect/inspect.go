// Package inspect compares the extension of a file with the type its magic
// bytes say it is, flagging files that masquerade as something else.
package inspect

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Hara602/treewatch/internal/model"
	"github.com/Hara602/treewatch/internal/sysutil"
	"github.com/h2non/filetype"
	"go.uber.org/zap"
)

// headSize is what filetype needs to match every type it knows.
const headSize = 262

type Risk string

const (
	RiskSafe   Risk = "SAFE"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

type Result struct {
	Masquerade  bool
	RealExt     string // from the magic bytes
	DeclaredExt string // from the file name
	Risk        Risk
	Message     string
}

// Inspector holds the aliases under which a detected type may legitimately
// appear (a docx is a zip).
type Inspector struct {
	mu      sync.RWMutex
	aliases map[string]map[string]bool
}

func New() *Inspector {
	in := &Inspector{aliases: make(map[string]map[string]bool)}
	in.Allow("zip",
		"docx", "docm", "dotx", "dotm",
		"xlsx", "xlsm", "xltx", "xltm",
		"pptx", "pptm", "potx", "potm",
		"jar", "war", "ear", "apk",
		"odt", "ods", "odp",
		"crx", "whl", "nupkg")
	in.Allow("xml", "svg", "html", "htm", "kml", "dae", "plist", "config")
	in.Allow("mp4", "m4v", "mov", "qt")
	in.Allow("mov", "qt", "mp4")
	in.Allow("ogg", "ogv", "oga", "spx")
	in.Allow("exe", "dll", "sys", "scr", "cpl", "ocx")
	in.Allow("gz", "gzip", "tgz")
	return in
}

// Allow accepts exts as names for files whose content is realExt.
func (in *Inspector) Allow(realExt string, exts ...string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	set, ok := in.aliases[realExt]
	if !ok {
		set = map[string]bool{realExt: true}
		in.aliases[realExt] = set
	}
	for _, ext := range exts {
		set[ext] = true
	}
}

// Inspect reads the head of the file at path. Files without an extension,
// empty files and content filetype does not recognise (usually text) are
// considered safe.
func (in *Inspector) Inspect(path string) (*Result, error) {
	declared := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if declared == "" {
		return &Result{Risk: RiskSafe, Message: "no extension"}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file failed: %w", err)
	}
	defer f.Close()

	head := make([]byte, headSize)
	n, err := io.ReadFull(f, head)
	if n == 0 {
		if err == io.EOF {
			return &Result{DeclaredExt: declared, Risk: RiskSafe, Message: "empty file"}, nil
		}
		return nil, fmt.Errorf("read file failed: %w", err)
	}

	kind, _ := filetype.Match(head[:n])
	if kind == filetype.Unknown {
		return &Result{RealExt: "unknown", DeclaredExt: declared, Risk: RiskSafe, Message: "unknown signature"}, nil
	}
	actual := kind.Extension
	if actual == declared {
		return &Result{RealExt: actual, DeclaredExt: declared, Risk: RiskSafe}, nil
	}

	in.mu.RLock()
	allowed := in.aliases[actual][declared]
	in.mu.RUnlock()
	if allowed {
		return &Result{
			RealExt:     actual,
			DeclaredExt: declared,
			Risk:        RiskSafe,
			Message:     fmt.Sprintf("allowed alias: %s is compatible with %s", declared, actual),
		}, nil
	}

	risk := RiskMedium
	if actual == "exe" || actual == "elf" || actual == "dll" {
		risk = RiskHigh
	}
	return &Result{
		Masquerade:  true,
		RealExt:     actual,
		DeclaredExt: declared,
		Risk:        risk,
		Message:     fmt.Sprintf("type mismatch: content is %q but name says %q", actual, declared),
	}, nil
}

// Handler inspects regular files as they are created, modified or moved in.
type Handler struct {
	Inspector *Inspector
	Logger    *zap.Logger
}

func NewHandler() *Handler {
	return &Handler{Inspector: New(), Logger: sysutil.Log.Named("inspect")}
}

func (h *Handler) Dispatch(ev model.Event) {
	if ev.IsDirectory {
		return
	}
	var path string
	switch ev.Kind {
	case model.Created, model.Modified:
		path = ev.SrcPath
	case model.Moved:
		path = ev.DestPath
	default:
		return
	}

	res, err := h.Inspector.Inspect(path)
	if err != nil {
		h.Logger.Debug("inspect failed", zap.String("path", path), zap.Error(err))
		return
	}
	if res.Masquerade {
		h.Logger.Warn("masquerading file",
			zap.String("path", path),
			zap.String("risk", string(res.Risk)),
			zap.String("detail", res.Message))
	}
}
