package installer

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/moby/patternmatcher"

	"modkeeper/internal/types"
)

type extractEntry struct {
	// rel is the slash-separated destination below the target directory.
	rel  string
	file *zip.File
}

// planExtraction selects archive entries with the module's install
// directives and maps them to destinations. The result is sorted by
// destination. Without directives every file is installed at its
// archive path.
func planExtraction(data []byte, directives []types.InstallDirective) ([]extractEntry, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("archive is not a valid zip file").
			WithCause(err)
	}

	files := make([]*zip.File, 0, len(reader.File))
	names := map[*zip.File]string{}
	for _, file := range reader.File {
		if file.FileInfo().IsDir() || strings.HasSuffix(file.Name, "/") {
			continue
		}
		name, err := cleanArchivePath(file.Name)
		if err != nil {
			return nil, err
		}
		if !file.Mode().IsRegular() {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("archive entry %s is not a regular file", name))
		}
		names[file] = name
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return names[files[i]] < names[files[j]] })

	if len(directives) == 0 {
		directives = []types.InstallDirective{{Match: []string{"**"}}}
	}

	selected := map[*zip.File]bool{}
	byDest := map[string]extractEntry{}
	for _, directive := range directives {
		patterns := directive.Match
		if len(patterns) == 0 {
			patterns = []string{"**"}
		}
		matcher, err := patternmatcher.New(patterns)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid install pattern %v", patterns)).
				WithCause(err)
		}
		strip := strings.Trim(path.Clean("/"+directive.Strip), "/")
		installTo := strings.Trim(path.Clean("/"+directive.InstallTo), "/")
		for _, file := range files {
			if selected[file] {
				continue
			}
			name := names[file]
			ok, err := matcher.MatchesOrParentMatches(name)
			if err != nil {
				return nil, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg(fmt.Sprintf("failed to match %s", name)).
					WithCause(err)
			}
			if !ok {
				continue
			}
			relative := name
			if strip != "" {
				if !strings.HasPrefix(name, strip+"/") {
					continue
				}
				relative = strings.TrimPrefix(name, strip+"/")
			}
			dest := path.Join(installTo, relative)
			if err := checkDestination(dest); err != nil {
				return nil, err
			}
			if existing, ok := byDest[dest]; ok {
				return nil, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg(fmt.Sprintf("archive entries %s and %s both install to %s", names[existing.file], name, dest))
			}
			selected[file] = true
			byDest[dest] = extractEntry{rel: dest, file: file}
		}
	}
	if len(byDest) == 0 {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("install directives matched no archive entries")
	}

	out := make([]extractEntry, 0, len(byDest))
	for _, entry := range byDest {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rel < out[j].rel })
	return out, nil
}

// cleanArchivePath normalizes an entry name and rejects names that would
// escape the extraction root.
func cleanArchivePath(name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(slashed, "/") || (len(slashed) > 1 && slashed[1] == ':') {
		return "", unsafePath(name)
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", unsafePath(name)
		}
	}
	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == "" {
		return "", unsafePath(name)
	}
	return cleaned, nil
}

func checkDestination(dest string) error {
	if dest == "" || dest == "." || !filepath.IsLocal(filepath.FromSlash(dest)) {
		return unsafePath(dest)
	}
	first := strings.SplitN(dest, "/", 2)[0]
	if strings.HasPrefix(first, ".modkeeper") {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("destination %s is reserved", dest))
	}
	return nil
}

func unsafePath(name string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("archive path %q escapes the target directory", name))
}
