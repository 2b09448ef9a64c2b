package adapters

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"modkeeper/internal/ports"
	"modkeeper/internal/types"
)

// FileFetcherAdapter reads archives from the local filesystem. Relative
// paths resolve against BaseDir.
type FileFetcherAdapter struct {
	BaseDir string
}

var _ ports.FetcherPort = FileFetcherAdapter{}

func NewFileFetcherAdapter(baseDir string) FileFetcherAdapter {
	return FileFetcherAdapter{BaseDir: baseDir}
}

func (a FileFetcherAdapter) Fetch(ctx context.Context, module types.ModuleVersion) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(module.Download)
	if strings.HasPrefix(path, "file://") {
		parsed, err := url.Parse(path)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid file url %q", module.Download)).
				WithCause(err)
		}
		path = parsed.Path
	}
	if path == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("module %s %s has no download path", module.Identifier, module.Version))
	}
	if !filepath.IsAbs(path) && a.BaseDir != "" {
		path = filepath.Join(a.BaseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("archive %s not readable", path)).
			WithCause(err)
	}
	return data, nil
}
